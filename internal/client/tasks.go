package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/veldt-ai/go-chat/internal/eventbus"
	"github.com/veldt-ai/go-chat/internal/protocol"
	"github.com/veldt-ai/go-chat/internal/sse"
	"github.com/veldt-ai/go-chat/internal/tasks"
)

// StreamTasks submits a task batch and folds its task_event and
// task_result records into the machine until the stream ends. The batch
// must already be registered on the machine so ids line up. Task streams
// are independent of the chat generation stream; they are correlated
// only through parent_chat_id and trace_id, never through ordering.
func (c *Client) StreamTasks(ctx context.Context, req protocol.TaskBatchRequest, machine *tasks.Machine) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if machine == nil {
		return fmt.Errorf("task machine is required")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if batchHasDeadline(req) {
		go machine.Watch(streamCtx, 0)
	}

	header := http.Header{}
	header.Set(protocol.TraceHeader, machine.TraceID())

	resp, err := c.postStream(streamCtx, tasksStreamPath, req, header)
	if err != nil {
		c.notifyTransportError("tasks stream", err)
		return err
	}
	defer resp.Body.Close()

	err = sse.Stream(streamCtx, resp.Body, func(evt protocol.Event) error {
		switch evt.Kind() {
		case protocol.KindTaskEvent:
			if task, applied := machine.ApplyEvent(evt); applied {
				c.publishTaskUpdate(machine, task)
			}
		case protocol.KindTaskResult:
			for _, task := range machine.ApplyResult(evt) {
				c.publishTaskUpdate(machine, task)
			}
		}
		return nil
	}, sse.WithLogger(c.logger))

	if err != nil && (errors.Is(err, context.Canceled) || streamCtx.Err() != nil) {
		return nil
	}
	if err != nil {
		c.notifyTransportError("tasks stream", err)
		return fmt.Errorf("tasks stream: %w", err)
	}
	return nil
}

// CancelTask asks the platform to cancel one task. Fire-and-forget: a
// successful cancellation shows up later on the task stream as a failed
// terminal event carrying the cancellation sentinel.
func (c *Client) CancelTask(ctx context.Context, parentChatID, taskID string) error {
	if parentChatID == "" {
		return fmt.Errorf("parent_chat_id is required")
	}
	if taskID == "" {
		return fmt.Errorf("task_id is required")
	}
	req := protocol.TaskCancelRequest{ParentChatID: parentChatID, TaskID: taskID}
	return c.doJSON(ctx, http.MethodPost, tasksCancelPath, req, nil)
}

func (c *Client) publishTaskUpdate(machine *tasks.Machine, task tasks.Task) {
	if c.bus == nil {
		return
	}
	_, _ = c.bus.Publish(eventbus.EventInput{
		Stream:  eventbus.StreamTasks,
		Subject: fmt.Sprintf("task %s %s", task.ID, task.Status),
		Body:    string(task.Status),
		Metadata: map[string]any{
			"task_id":        task.ID,
			"status":         string(task.Status),
			"error":          task.Error,
			"parent_chat_id": machine.ParentChatID(),
			"trace_id":       machine.TraceID(),
		},
	})
}

func batchHasDeadline(req protocol.TaskBatchRequest) bool {
	for _, spec := range req.Tasks {
		if spec.DeadlineTS > 0 {
			return true
		}
	}
	return false
}
