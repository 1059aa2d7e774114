package domain

// Role values accepted by every completion provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the
// generators and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StopReason reports why the service stopped generating.
type StopReason string

const (
	StopComplete  StopReason = "complete"
	StopTruncated StopReason = "truncated"
)

// Completion is one response from the LLM service.
type Completion struct {
	Content    string
	StopReason StopReason
}

// Complete reports whether the service finished the response naturally.
func (c Completion) Complete() bool {
	return c.StopReason == StopComplete
}

// CompletionRequest is the input to a single completion call.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}
