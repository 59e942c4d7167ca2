package protocol

import "fmt"

// ChatRequest is the body of the chat streaming endpoint.
type ChatRequest struct {
	Message  string   `json:"message"`
	Images   []string `json:"images,omitempty"`
	AgentID  string   `json:"agent_id,omitempty"`
	ChatID   string   `json:"chat_id,omitempty"`
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
}

func (r ChatRequest) Validate() error {
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if r.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// TaskSpec describes one sub-task of a batch. DeadlineTS is an absolute
// expiry in epoch seconds; zero means no deadline.
type TaskSpec struct {
	ID         string `json:"id,omitempty"`
	Prompt     string `json:"prompt"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	DeadlineTS int64  `json:"deadline_ts,omitempty"`
}

// TaskBatchRequest is the body of the tasks streaming endpoint.
type TaskBatchRequest struct {
	ParentChatID string     `json:"parent_chat_id"`
	Tasks        []TaskSpec `json:"tasks"`
}

func (r TaskBatchRequest) Validate() error {
	if r.ParentChatID == "" {
		return fmt.Errorf("parent_chat_id is required")
	}
	if len(r.Tasks) == 0 {
		return fmt.Errorf("tasks is required")
	}
	for i, spec := range r.Tasks {
		if spec.Prompt == "" {
			return fmt.Errorf("tasks[%d]: prompt is required", i)
		}
	}
	return nil
}

// TaskCancelRequest is the body of the task cancel endpoint. The call is
// fire-and-forget; the effect arrives later on the task stream.
type TaskCancelRequest struct {
	ParentChatID string `json:"parent_chat_id"`
	TaskID       string `json:"task_id"`
}
