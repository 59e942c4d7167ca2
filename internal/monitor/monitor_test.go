package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/veldt-ai/go-chat/internal/eventbus"
)

type fakeWSWriter struct {
	mu       sync.Mutex
	messages [][]byte
	fail     error
}

func (f *fakeWSWriter) Write(ctx context.Context, msgType websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.messages = append(f.messages, buf)
	return nil
}

func (f *fakeWSWriter) snapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.messages))
	copy(out, f.messages)
	return out
}

func TestStreamEventsForwardsBusEvents(t *testing.T) {
	bus := eventbus.NewBus()
	writer := &fakeWSWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- streamEvents(ctx, bus, []string{eventbus.StreamTasks}, writer)
	}()

	// Wait for the subscription before publishing.
	deadline := time.After(time.Second)
	for bus.SubscriberCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("subscription never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := bus.Publish(eventbus.EventInput{
		Stream:   eventbus.StreamTasks,
		Body:     "running",
		Metadata: map[string]any{"task_id": "t1"},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := bus.Publish(eventbus.EventInput{Stream: eventbus.StreamProtocol, Body: "filtered"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline = time.After(time.Second)
	for len(writer.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("event never forwarded")
		case <-time.After(5 * time.Millisecond):
		}
	}

	var got eventbus.Event
	if err := json.Unmarshal(writer.snapshot()[0], &got); err != nil {
		t.Fatalf("unmarshal forwarded event: %v", err)
	}
	if got.Stream != eventbus.StreamTasks || got.Body != "running" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if eventbus.GetMetaString(got.Metadata, "task_id") != "t1" {
		t.Fatalf("metadata lost in transit: %+v", got)
	}
	if len(writer.snapshot()) != 1 {
		t.Fatalf("filtered stream forwarded anyway")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("streamEvents did not stop on cancel")
	}
}

func TestStreamEventsStopsOnWriteError(t *testing.T) {
	bus := eventbus.NewBus()
	writer := &fakeWSWriter{fail: context.DeadlineExceeded}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- streamEvents(ctx, bus, nil, writer)
	}()

	deadline := time.After(time.Second)
	for bus.SubscriberCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("subscription never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	bus.Publish(eventbus.EventInput{Stream: eventbus.StreamNotices, Body: "boom"})

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected write error to stop the stream")
		}
	case <-time.After(time.Second):
		t.Fatalf("streamEvents did not stop on write error")
	}
}

func TestHandlerRequiresBus(t *testing.T) {
	srv := &Server{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/monitor/ws", nil)
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without a bus, got %d", rec.Code)
	}
}

func TestSplitComma(t *testing.T) {
	got := splitComma(" protocol, tasks ,,notices ")
	want := []string{"protocol", "tasks", "notices"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
