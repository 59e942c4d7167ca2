// Package sse decodes Server-Sent-Events response bodies into protocol
// events. Chunk boundaries carry no meaning: the decoder buffers the
// trailing partial line between feeds, so splitting a stream at any
// byte offset yields the same event sequence.
package sse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/veldt-ai/go-chat/internal/protocol"
)

const dataPrefix = "data: "

type Decoder struct {
	pending string
	dropped int
	logger  *slog.Logger
}

type Option func(*Decoder)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Feed appends one raw chunk and returns every event completed by it,
// in line order. Lines without the data prefix and lines that fail to
// parse are dropped; a malformed line never aborts the stream.
func (d *Decoder) Feed(chunk []byte) []protocol.Event {
	if len(chunk) == 0 {
		return nil
	}
	text := d.pending + string(chunk)
	lines := strings.Split(text, "\n")
	d.pending = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	var out []protocol.Event
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := line[len(dataPrefix):]
		evt, err := protocol.Decode([]byte(payload))
		if err != nil {
			d.dropped++
			d.logger.Warn("dropping malformed stream line", "error", err)
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Finish discards whatever partial line is still buffered. Content that
// never received its line terminator is never speculatively parsed.
func (d *Decoder) Finish() {
	d.pending = ""
}

// Dropped reports how many lines were discarded as malformed.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Stream reads r to completion, forwarding each decoded event to fn in
// arrival order. It stops early if ctx is cancelled or fn returns an
// error. A clean EOF discards any unterminated trailing fragment.
func Stream(ctx context.Context, r io.Reader, fn func(protocol.Event) error, opts ...Option) error {
	dec := NewDecoder(opts...)
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			dec.Finish()
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, evt := range dec.Feed(buf[:n]) {
				// Cancellation must take effect mid-chunk: once ctx is
				// done, no further event from an already-read chunk may
				// be applied.
				if err := ctx.Err(); err != nil {
					dec.Finish()
					return err
				}
				if err := fn(evt); err != nil {
					dec.Finish()
					return err
				}
			}
		}
		if err != nil {
			dec.Finish()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
