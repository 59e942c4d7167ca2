// Package protocol defines the wire types exchanged with the assistant
// platform. Stream events arrive as flat JSON objects with no type tag;
// which fields are populated determines what an event means. Kind
// performs that inference exactly once so consumers can switch on a
// discriminator instead of re-probing field presence.
package protocol

import "encoding/json"

// Sentinel error strings carried verbatim in task events. The platform
// distinguishes these two; clients must never re-word them.
const (
	ErrCancelled        = "cancelled"
	ErrDeadlineExceeded = "deadline_exceeded"
)

// TraceHeader carries the caller-supplied trace id on streaming
// requests. The platform echoes it back in every task event.
const TraceHeader = "X-Trace-Id"

// Event type tags used by the task streaming endpoints. All other event
// kinds are untagged on the wire.
const (
	TypeTaskEvent  = "task_event"
	TypeTaskResult = "task_result"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindChatID
	KindMeta
	KindDelta
	KindThoughtDuration
	KindTotalDuration
	KindUsage
	KindCitations
	KindTaskEvent
	KindTaskResult
	KindError
)

// Citation points at a source the assistant grounded its answer on.
type Citation struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Page      int    `json:"page,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}

// TaskOutcome is one entry of a task_result summary.
type TaskOutcome struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TaskResult is the terminal, idempotent summary for a whole task batch.
type TaskResult struct {
	Tasks []TaskOutcome `json:"tasks"`
}

// Event is one decoded stream record. Pointer fields distinguish
// "absent" from "present but zero", mirroring the wire format.
type Event struct {
	ChatID string         `json:"chat_id,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`

	Content *string `json:"content,omitempty"`
	Thought *string `json:"thought,omitempty"`

	// Durations arrive in seconds.
	ThoughtDuration *float64 `json:"thought_duration,omitempty"`
	TotalDuration   *float64 `json:"total_duration,omitempty"`

	PromptTokens     *int     `json:"prompt_tokens,omitempty"`
	CompletionTokens *int     `json:"completion_tokens,omitempty"`
	TotalTokens      *int     `json:"total_tokens,omitempty"`
	TPS              *float64 `json:"tps,omitempty"`
	FinishReason     *string  `json:"finish_reason,omitempty"`

	Citations []Citation `json:"citations,omitempty"`

	Type    string      `json:"type,omitempty"`
	TaskID  string      `json:"task_id,omitempty"`
	Status  string      `json:"status,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
	Result  *TaskResult `json:"result,omitempty"`

	Error *string `json:"error,omitempty"`

	kind Kind
}

// Decode parses one wire line payload and classifies it.
func Decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, err
	}
	evt.kind = evt.classify()
	return evt, nil
}

// Kind reports what information the event carries. Events decoded via
// Decode are classified once; zero-value events classify lazily so
// hand-built events in tests behave the same.
func (e *Event) Kind() Kind {
	if e.kind == KindUnknown {
		e.kind = e.classify()
	}
	return e.kind
}

// classify mirrors the precedence the reconciler dispatches on. Task
// events are the only tagged records and are checked first; everything
// else is inferred from field presence.
func (e *Event) classify() Kind {
	switch e.Type {
	case TypeTaskEvent:
		return KindTaskEvent
	case TypeTaskResult:
		return KindTaskResult
	}
	switch {
	case e.ChatID != "":
		return KindChatID
	case e.Meta != nil:
		return KindMeta
	case e.Content != nil || e.Thought != nil:
		return KindDelta
	case e.ThoughtDuration != nil:
		return KindThoughtDuration
	case e.TotalDuration != nil:
		return KindTotalDuration
	case e.PromptTokens != nil || e.CompletionTokens != nil || e.TotalTokens != nil || e.TPS != nil || e.FinishReason != nil:
		return KindUsage
	case e.Citations != nil:
		return KindCitations
	case e.Error != nil:
		return KindError
	default:
		return KindUnknown
	}
}
