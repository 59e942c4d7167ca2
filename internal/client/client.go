// Package client talks to the assistant platform's REST API. The chat
// and task streaming endpoints answer with SSE bodies that are decoded
// incrementally and folded into transcript and task-machine state; the
// remaining endpoints are plain JSON round-trips.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/veldt-ai/go-chat/internal/eventbus"
)

const (
	chatStreamPath  = "/api/chat/stream"
	tasksStreamPath = "/api/tasks/stream"
	tasksCancelPath = "/api/tasks/cancel"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	bus        *eventbus.Bus
	logger     *slog.Logger
	onElapsed  func(time.Duration)

	// mu serializes generation streams: at most one chat stream is
	// active per client session; a new submission cancels the previous
	// and waits for it to fully stop before opening its own turn.
	mu     sync.Mutex
	active *generation
}

// generation tracks one in-flight chat stream. done is closed only
// after the stream's goroutine has stopped applying events.
type generation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithBus(bus *eventbus.Bus) Option {
	return func(c *Client) {
		c.bus = bus
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithElapsed registers a callback ticked once a second while a chat
// stream is in flight, for elapsed-time display. The tick stops the
// moment the stream ends or is aborted.
func WithElapsed(fn func(time.Duration)) Option {
	return func(c *Client) {
		c.onElapsed = fn
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Abort cancels the in-flight chat stream, if any. Already-applied
// message state is left exactly as it is.
func (c *Client) Abort() {
	c.mu.Lock()
	gen := c.active
	c.mu.Unlock()
	if gen != nil {
		gen.cancel()
	}
}

// beginGeneration cancels any active stream, waits until it has fully
// stopped, then installs the new one. The wait matters: without it a
// displaced stream could apply one more already-read event after the
// new turn opened, landing stale content on the wrong message.
func (c *Client) beginGeneration(ctx context.Context) (context.Context, func()) {
	for {
		c.mu.Lock()
		prev := c.active
		if prev == nil {
			streamCtx, cancel := context.WithCancel(ctx)
			gen := &generation{cancel: cancel, done: make(chan struct{})}
			c.active = gen
			c.mu.Unlock()
			return streamCtx, func() { c.endGeneration(gen) }
		}
		prev.cancel()
		c.mu.Unlock()
		<-prev.done
	}
}

func (c *Client) endGeneration(gen *generation) {
	gen.cancel()
	c.mu.Lock()
	if c.active == gen {
		c.active = nil
	}
	c.mu.Unlock()
	close(gen.done)
}

// notifyTransportError surfaces a connection problem as a user-visible
// notice. Transport failures never corrupt transcript or task state.
func (c *Client) notifyTransportError(op string, err error) {
	c.logger.Warn("transport error", "op", op, "error", err)
	if c.bus == nil {
		return
	}
	_, _ = c.bus.Publish(eventbus.EventInput{
		Stream:  eventbus.StreamNotices,
		Subject: "connection error",
		Body:    fmt.Sprintf("%s: %v", op, err),
	})
}

func (c *Client) postStream(ctx context.Context, path string, body any, header http.Header) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for key, values := range header {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("post %s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("post %s: response has no body", path)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.notifyTransportError(method+" "+path, err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		c.notifyTransportError(method+" "+path, err)
		return err
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
