package sse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/veldt-ai/go-chat/internal/protocol"
)

const sampleStream = "data: {\"chat_id\":\"c-1\"}\n" +
	"data: {\"content\":\"hel\"}\n" +
	": keepalive comment\n" +
	"data: {\"content\":\"lo\"}\n" +
	"\n" +
	"data: {not json}\n" +
	"data: {\"total_tokens\":42,\"finish_reason\":\"stop\"}\n"

func decodeAll(t *testing.T, chunks [][]byte) []protocol.Event {
	t.Helper()
	dec := NewDecoder()
	var out []protocol.Event
	for _, chunk := range chunks {
		out = append(out, dec.Feed(chunk)...)
	}
	dec.Finish()
	return out
}

func splitEvery(data []byte, n int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		end := n
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[:end])
		data = data[end:]
	}
	return out
}

func TestDecoderSingleChunk(t *testing.T) {
	events := decodeAll(t, [][]byte{[]byte(sampleStream)})
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Kind() != protocol.KindChatID || events[0].ChatID != "c-1" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if *events[1].Content != "hel" || *events[2].Content != "lo" {
		t.Fatalf("content fragments out of order")
	}
	if events[3].Kind() != protocol.KindUsage {
		t.Fatalf("expected usage event last")
	}
}

func TestDecoderChunkBoundaryInvariance(t *testing.T) {
	want := decodeAll(t, [][]byte{[]byte(sampleStream)})
	for n := 1; n <= len(sampleStream); n++ {
		got := decodeAll(t, splitEvery([]byte(sampleStream), n))
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: expected %d events, got %d", n, len(want), len(got))
		}
		for i := range want {
			if got[i].Kind() != want[i].Kind() {
				t.Fatalf("chunk size %d: event %d kind mismatch", n, i)
			}
		}
	}
}

func TestDecoderMalformedLineDropped(t *testing.T) {
	dec := NewDecoder()
	events := dec.Feed([]byte("data: {broken\ndata: {\"content\":\"ok\"}\n"))
	if len(events) != 1 {
		t.Fatalf("expected malformed line to be dropped, got %d events", len(events))
	}
	if dec.Dropped() != 1 {
		t.Fatalf("expected 1 dropped line, got %d", dec.Dropped())
	}
}

func TestDecoderUnterminatedTailDiscarded(t *testing.T) {
	dec := NewDecoder()
	events := dec.Feed([]byte("data: {\"content\":\"a\"}\ndata: {\"content\":\"never terminated\"}"))
	if len(events) != 1 {
		t.Fatalf("expected only the terminated line, got %d events", len(events))
	}
	dec.Finish()
	if extra := dec.Feed([]byte("\n")); len(extra) != 0 {
		t.Fatalf("finished decoder must not resurrect discarded content")
	}
}

func TestDecoderCarriageReturnTolerated(t *testing.T) {
	dec := NewDecoder()
	events := dec.Feed([]byte("data: {\"content\":\"x\"}\r\n"))
	if len(events) != 1 || *events[0].Content != "x" {
		t.Fatalf("CRLF line not decoded: %+v", events)
	}
}

func TestStreamReadsToCompletion(t *testing.T) {
	var got []protocol.Event
	err := Stream(context.Background(), bytes.NewReader([]byte(sampleStream)), func(evt protocol.Event) error {
		got = append(got, evt)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	boom := fmt.Errorf("stop here")
	count := 0
	err := Stream(context.Background(), bytes.NewReader([]byte(sampleStream)), func(evt protocol.Event) error {
		count++
		return boom
	})
	if err != boom {
		t.Fatalf("expected callback error, got %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one callback, got %d", count)
	}
}

func TestStreamContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Stream(ctx, bytes.NewReader([]byte(sampleStream)), func(protocol.Event) error {
		t.Fatalf("callback must not run after cancellation")
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamStopsMidChunkOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []protocol.Event
	err := Stream(ctx, bytes.NewReader([]byte(sampleStream)), func(evt protocol.Event) error {
		got = append(got, evt)
		cancel()
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events from an already-read chunk leaked past cancellation: got %d", len(got))
	}
}

// slowReader returns one byte per Read call to exercise buffering.
type slowReader struct {
	data []byte
	pos  int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

func TestStreamByteAtATime(t *testing.T) {
	var got []protocol.Event
	err := Stream(context.Background(), &slowReader{data: []byte(sampleStream)}, func(evt protocol.Event) error {
		got = append(got, evt)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events from byte-at-a-time reads, got %d", len(got))
	}
}
