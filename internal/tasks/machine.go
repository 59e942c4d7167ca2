// Package tasks tracks the sub-tasks spawned under one parent chat turn.
// One Machine owns the task_id -> Task mapping for a single batch and
// folds task_event / task_result records into it. Terminal statuses are
// sticky: once a task completes, fails, or is cancelled, later events
// for it are ignored and state never regresses.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veldt-ai/go-chat/internal/idgen"
	"github.com/veldt-ai/go-chat/internal/protocol"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusStarted   Status = "started"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var ErrInvalidStatusTransition = errors.New("invalid task status transition")

type StatusTransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("invalid task status transition for %s: %s -> %s", e.TaskID, e.From, e.To)
}

func (e *StatusTransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}

type Task struct {
	ID         string    `json:"id"`
	Prompt     string    `json:"prompt"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	DeadlineTS int64     `json:"deadline_ts,omitempty"`
	Status     Status    `json:"status"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Machine struct {
	parentChatID string
	traceID      string

	mu    sync.Mutex
	tasks map[string]*Task
	order []string

	logger  *slog.Logger
	now     func() time.Time
	journal func(Task)
}

type Option func(*Machine)

func WithClock(nowFn func() time.Time) Option {
	return func(m *Machine) {
		if nowFn != nil {
			m.now = nowFn
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithJournal registers a callback invoked after every applied
// transition, including backfilled ones.
func WithJournal(fn func(Task)) Option {
	return func(m *Machine) {
		m.journal = fn
	}
}

func NewMachine(parentChatID, traceID string, opts ...Option) *Machine {
	m := &Machine{
		parentChatID: parentChatID,
		traceID:      traceID,
		tasks:        map[string]*Task{},
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Machine) ParentChatID() string { return m.parentChatID }
func (m *Machine) TraceID() string      { return m.traceID }

// Register adds one task in the queued state. Specs without an id get a
// generated one so the batch request and the machine agree on ids.
func (m *Machine) Register(spec protocol.TaskSpec) Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := spec.ID
	if id == "" {
		id = idgen.New()
	}
	task := &Task{
		ID:         id,
		Prompt:     spec.Prompt,
		Provider:   spec.Provider,
		Model:      spec.Model,
		DeadlineTS: spec.DeadlineTS,
		Status:     StatusQueued,
		UpdatedAt:  m.now(),
	}
	if _, exists := m.tasks[id]; !exists {
		m.order = append(m.order, id)
	}
	m.tasks[id] = task
	return *task
}

// RegisterBatch registers every spec of a batch request and returns the
// request with generated ids filled in, ready to send.
func (m *Machine) RegisterBatch(req protocol.TaskBatchRequest) protocol.TaskBatchRequest {
	out := req
	out.Tasks = make([]protocol.TaskSpec, len(req.Tasks))
	for i, spec := range req.Tasks {
		task := m.Register(spec)
		spec.ID = task.ID
		out.Tasks[i] = spec
	}
	return out
}

// ApplyEvent folds one task_event into the machine. It reports the
// affected task and whether the event changed anything. Events for
// unknown task ids, regressions, and anything after a terminal status
// are ignored, never errors: the machine is total over malformed input.
func (m *Machine) ApplyEvent(evt protocol.Event) (Task, bool) {
	if evt.Kind() != protocol.KindTaskEvent {
		return Task{}, false
	}
	m.checkTrace(evt.TraceID, "task_event")

	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[evt.TaskID]
	if !ok {
		m.logger.Warn("task event for unknown task", "task_id", evt.TaskID, "parent_chat_id", m.parentChatID)
		return Task{}, false
	}
	if IsTerminalStatus(task.Status) {
		return *task, false
	}

	errMsg := ""
	if evt.Error != nil {
		errMsg = *evt.Error
	}
	target := normalizeStatus(evt.Status, errMsg)
	if target == "" {
		m.logger.Warn("task event with unrecognized status", "task_id", evt.TaskID, "status", evt.Status)
		return *task, false
	}

	if statusRank(target) <= statusRank(task.Status) {
		m.logger.Warn("ignoring task status regression",
			"error", &StatusTransitionError{TaskID: task.ID, From: task.Status, To: target})
		return *task, false
	}

	// The network gives no ordering guarantee: a terminal or running
	// event may beat the started event. Jump forward and backfill the
	// skipped started transition.
	if task.Status == StatusQueued && target != StatusStarted {
		m.transition(task, StatusStarted, "")
	}
	m.transition(task, target, errMsg)
	return *task, true
}

// ApplyResult folds the terminal batch summary. The result is
// authoritative: it overrides any status inferred from partial
// task_events and synthesizes tasks the events never mentioned.
func (m *Machine) ApplyResult(evt protocol.Event) []Task {
	if evt.Kind() != protocol.KindTaskResult || evt.Result == nil {
		return nil
	}
	m.checkTrace(evt.TraceID, "task_result")

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Task
	for _, outcome := range evt.Result.Tasks {
		task, ok := m.tasks[outcome.ID]
		if !ok {
			// Dropped events can leave a task entirely unseen; the
			// summary is still the truth for it.
			task = &Task{ID: outcome.ID, Status: StatusQueued}
			m.tasks[outcome.ID] = task
			m.order = append(m.order, outcome.ID)
		}
		target := normalizeStatus(outcome.Status, outcome.Error)
		if target == "" {
			target = task.Status
		}
		task.Status = target
		task.Output = outcome.Output
		task.Error = outcome.Error
		task.UpdatedAt = m.now()
		if m.journal != nil {
			m.journal(*task)
		}
		out = append(out, *task)
	}
	return out
}

// ExpireOverdue force-fails every non-terminal task whose deadline has
// passed, using the platform's sentinel error string. The server remains
// authoritative; if it reports the same expiry later, terminal
// stickiness absorbs the duplicate.
func (m *Machine) ExpireOverdue(now time.Time) []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Task
	for _, id := range m.order {
		task := m.tasks[id]
		if IsTerminalStatus(task.Status) || task.DeadlineTS == 0 {
			continue
		}
		if now.Unix() < task.DeadlineTS {
			continue
		}
		if task.Status == StatusQueued {
			m.transition(task, StatusStarted, "")
		}
		m.transition(task, StatusFailed, protocol.ErrDeadlineExceeded)
		out = append(out, *task)
	}
	return out
}

// Watch runs the deadline watchdog until ctx is done or every task is
// terminal.
func (m *Machine) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.ExpireOverdue(now.UTC())
			if m.Done() {
				return
			}
		}
	}
}

func (m *Machine) Get(taskID string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Snapshot returns copies of every task in registration order.
func (m *Machine) Snapshot() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.tasks[id])
	}
	return out
}

// Done reports whether every registered task reached a terminal status.
func (m *Machine) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tasks) == 0 {
		return false
	}
	for _, task := range m.tasks {
		if !IsTerminalStatus(task.Status) {
			return false
		}
	}
	return true
}

// transition mutates under m.mu.
func (m *Machine) transition(task *Task, target Status, errMsg string) {
	task.Status = target
	task.Error = errMsg
	task.UpdatedAt = m.now()
	if m.journal != nil {
		m.journal(*task)
	}
}

// checkTrace surfaces trace correlation violations in logs without
// blocking the event; rendering must not stall on a server bug.
func (m *Machine) checkTrace(traceID, source string) {
	if traceID == m.traceID {
		return
	}
	m.logger.Warn("trace id mismatch",
		"source", source,
		"want", m.traceID,
		"got", traceID,
		"parent_chat_id", m.parentChatID)
}

func IsTerminalStatus(status Status) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// normalizeStatus maps a wire status to the internal one. A failed task
// whose error is the cancellation sentinel was cancelled, not failed.
func normalizeStatus(status, errMsg string) Status {
	switch Status(status) {
	case StatusStarted:
		return StatusStarted
	case StatusRunning:
		return StatusRunning
	case StatusCompleted:
		return StatusCompleted
	case StatusFailed:
		if errMsg == protocol.ErrCancelled {
			return StatusCancelled
		}
		return StatusFailed
	case StatusCancelled:
		return StatusCancelled
	case StatusQueued:
		return StatusQueued
	default:
		return ""
	}
}

func statusRank(status Status) int {
	switch status {
	case StatusQueued:
		return 0
	case StatusStarted:
		return 1
	case StatusRunning:
		return 2
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 3
	default:
		return -1
	}
}
