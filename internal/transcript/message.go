package transcript

import (
	"time"

	"github.com/veldt-ai/go-chat/internal/protocol"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. While a turn is streaming, the last
// assistant message is the single mutable accumulator; every earlier
// message is append-only history.
type Message struct {
	ID        string              `json:"id"`
	Role      Role                `json:"role"`
	Content   string              `json:"content"`
	Images    []string            `json:"images,omitempty"`
	Citations []protocol.Citation `json:"citations,omitempty"`
	ContextID string              `json:"context_id,omitempty"`
	Meta      map[string]any      `json:"meta,omitempty"`

	// Thinking is set as soon as a thought-bearing delta arrives.
	Thinking bool `json:"thinking,omitempty"`

	// FirstTokenMS is the time from turn start to the first delta.
	FirstTokenMS int64 `json:"first_token_ms,omitempty"`
	// ThoughtDuration is carried verbatim in seconds.
	ThoughtDuration float64 `json:"thought_duration,omitempty"`
	TotalDurationMS int64   `json:"total_duration_ms,omitempty"`

	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	TPS              float64 `json:"tps,omitempty"`
	FinishReason     string  `json:"finish_reason,omitempty"`

	Err string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	frozen bool
}

// Frozen reports whether the message stopped accepting updates, either
// because its turn ended or because an error event terminated it.
func (m *Message) Frozen() bool {
	return m.frozen
}
