// Package transcript folds decoded stream events into an ordered list of
// chat messages. Apply is a pure merge over the open message: content
// only ever grows, and an event matching no dispatch rule is a no-op so
// unknown fields from newer servers are ignored rather than rejected.
package transcript

import (
	"time"

	"github.com/veldt-ai/go-chat/internal/idgen"
	"github.com/veldt-ai/go-chat/internal/protocol"
)

type Transcript struct {
	ChatID   string
	Messages []*Message

	// onHistoryRefresh fires after the server assigns a chat id; the
	// history list is server-authoritative and may have gained an entry.
	onHistoryRefresh func()
	now              func() time.Time

	turnStart     time.Time
	sawFirstToken bool
}

type Option func(*Transcript)

func WithHistoryRefresh(fn func()) Option {
	return func(t *Transcript) {
		t.onHistoryRefresh = fn
	}
}

func WithClock(nowFn func() time.Time) Option {
	return func(t *Transcript) {
		if nowFn != nil {
			t.now = nowFn
		}
	}
}

func New(opts ...Option) *Transcript {
	t := &Transcript{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// AppendUser records the user's submission as frozen history.
func (t *Transcript) AppendUser(content string, images []string) *Message {
	msg := &Message{
		ID:        idgen.New(),
		Role:      RoleUser,
		Content:   content,
		Images:    images,
		ContextID: t.ChatID,
		CreatedAt: t.now(),
		frozen:    true,
	}
	t.Messages = append(t.Messages, msg)
	return msg
}

// BeginTurn opens a fresh assistant message and starts the first-token
// clock. Exactly one message is mutable at a time: any previously open
// message is frozen first.
func (t *Transcript) BeginTurn() *Message {
	t.CloseTurn()
	msg := &Message{
		ID:        idgen.New(),
		Role:      RoleAssistant,
		ContextID: t.ChatID,
		CreatedAt: t.now(),
	}
	t.Messages = append(t.Messages, msg)
	t.turnStart = t.now()
	t.sawFirstToken = false
	return msg
}

// CloseTurn freezes the open message, if any. Already-applied state is
// left exactly as it is; an aborted stream keeps whatever it got.
func (t *Transcript) CloseTurn() {
	if msg := t.Current(); msg != nil {
		msg.frozen = true
	}
}

// Current returns the open assistant message, or nil when no turn is in
// flight.
func (t *Transcript) Current() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	last := t.Messages[len(t.Messages)-1]
	if last.Role != RoleAssistant || last.frozen {
		return nil
	}
	return last
}

// Apply folds one decoded event into the transcript and returns the
// affected message. Dispatch follows field presence, first match wins.
func (t *Transcript) Apply(evt protocol.Event) *Message {
	if evt.Kind() == protocol.KindChatID {
		return t.adoptChatID(evt.ChatID)
	}

	msg := t.Current()
	if msg == nil {
		return nil
	}

	switch evt.Kind() {
	case protocol.KindMeta:
		if msg.Meta == nil {
			msg.Meta = map[string]any{}
		}
		for k, v := range evt.Meta {
			msg.Meta[k] = v
		}
	case protocol.KindDelta:
		if !t.sawFirstToken {
			t.sawFirstToken = true
			msg.FirstTokenMS = t.now().Sub(t.turnStart).Milliseconds()
		}
		if evt.Thought != nil {
			msg.Thinking = true
		}
		if evt.Content != nil {
			// Content arrives incrementally; concatenate, never replace.
			msg.Content += *evt.Content
		}
	case protocol.KindThoughtDuration:
		msg.ThoughtDuration = *evt.ThoughtDuration
	case protocol.KindTotalDuration:
		msg.TotalDurationMS = int64(*evt.TotalDuration * 1000)
	case protocol.KindUsage:
		if evt.PromptTokens != nil {
			msg.PromptTokens = *evt.PromptTokens
		}
		if evt.CompletionTokens != nil {
			msg.CompletionTokens = *evt.CompletionTokens
		}
		if evt.TotalTokens != nil {
			msg.TotalTokens = *evt.TotalTokens
		}
		if evt.TPS != nil {
			msg.TPS = *evt.TPS
		}
		if evt.FinishReason != nil {
			msg.FinishReason = *evt.FinishReason
		}
	case protocol.KindCitations:
		msg.Citations = append([]protocol.Citation(nil), evt.Citations...)
	case protocol.KindError:
		msg.Err = *evt.Error
		msg.Content = "Error: " + *evt.Error
		msg.Thinking = false
		msg.frozen = true
	}
	return msg
}

// adoptChatID records the server-assigned chat id and repairs every
// message created before the server assigned one, not just the current
// message.
func (t *Transcript) adoptChatID(chatID string) *Message {
	t.ChatID = chatID
	for _, msg := range t.Messages {
		if msg.ContextID == "" {
			msg.ContextID = chatID
		}
	}
	if t.onHistoryRefresh != nil {
		t.onHistoryRefresh()
	}
	return t.Current()
}
