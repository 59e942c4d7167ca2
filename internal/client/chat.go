package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/veldt-ai/go-chat/internal/eventbus"
	"github.com/veldt-ai/go-chat/internal/idgen"
	"github.com/veldt-ai/go-chat/internal/protocol"
	"github.com/veldt-ai/go-chat/internal/sse"
	"github.com/veldt-ai/go-chat/internal/transcript"
)

// ChatStream submits one turn and folds the streamed response into tr.
// It blocks until the stream ends, errors, or ctx is cancelled. A second
// submission while one is in flight cancels the first: at most one
// generation stream is ever active per session. Cancellation is a clean
// stop, not an error, and applied state is never rolled back.
func (c *Client) ChatStream(ctx context.Context, req protocol.ChatRequest, tr *transcript.Transcript) (*transcript.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ChatID == "" {
		req.ChatID = tr.ChatID
	}

	streamCtx, endStream := c.beginGeneration(ctx)
	defer endStream()

	tr.AppendUser(req.Message, req.Images)
	msg := tr.BeginTurn()
	defer tr.CloseTurn()

	traceID := idgen.TraceID()
	header := http.Header{}
	header.Set(protocol.TraceHeader, traceID)

	resp, err := c.postStream(streamCtx, chatStreamPath, req, header)
	if err != nil {
		c.notifyTransportError("chat stream", err)
		return msg, err
	}
	defer resp.Body.Close()

	stopTicker := c.startElapsedTicker(streamCtx)
	defer stopTicker()

	err = sse.Stream(streamCtx, resp.Body, func(evt protocol.Event) error {
		tr.Apply(evt)
		c.publishProtocolEvent(evt, traceID)
		return nil
	}, sse.WithLogger(c.logger))

	if err != nil && (errors.Is(err, context.Canceled) || streamCtx.Err() != nil) {
		// User-initiated abort: keep whatever the message got.
		return msg, nil
	}
	if err != nil {
		c.notifyTransportError("chat stream", err)
		return msg, fmt.Errorf("chat stream: %w", err)
	}
	return msg, nil
}

// startElapsedTicker drives the elapsed-time callback while the stream
// is alive. The returned stop function releases the ticker; aborting the
// stream cancels ctx and releases it as well.
func (c *Client) startElapsedTicker(ctx context.Context) func() {
	if c.onElapsed == nil {
		return func() {}
	}
	done := make(chan struct{})
	start := time.Now()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case now := <-ticker.C:
				c.onElapsed(now.Sub(start))
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

func (c *Client) publishProtocolEvent(evt protocol.Event, traceID string) {
	if c.bus == nil {
		return
	}
	_, _ = c.bus.Publish(eventbus.EventInput{
		Stream:  eventbus.StreamProtocol,
		Subject: kindName(evt.Kind()),
		Body:    "stream event",
		Metadata: map[string]any{
			"kind":     kindName(evt.Kind()),
			"trace_id": traceID,
		},
	})
}

func kindName(kind protocol.Kind) string {
	switch kind {
	case protocol.KindChatID:
		return "chat_id"
	case protocol.KindMeta:
		return "meta"
	case protocol.KindDelta:
		return "delta"
	case protocol.KindThoughtDuration:
		return "thought_duration"
	case protocol.KindTotalDuration:
		return "total_duration"
	case protocol.KindUsage:
		return "usage"
	case protocol.KindCitations:
		return "citations"
	case protocol.KindTaskEvent:
		return "task_event"
	case protocol.KindTaskResult:
		return "task_result"
	case protocol.KindError:
		return "error"
	default:
		return "unknown"
	}
}
