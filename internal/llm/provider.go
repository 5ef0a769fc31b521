// Package llm defines the provider-agnostic interface for planning
// requests. Planning is a single request/response text exchange; the
// model's reply carries the plan script, so no tool-use protocol is
// involved at this layer.
package llm

import "context"

// Provider is the abstraction over any LLM backend (Anthropic, OpenAI, etc.).
type Provider interface {
	// SendMessage sends one exchange to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request is a full exchange sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
}

// Message is a single turn in the exchange.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the LLM returns.
type Response struct {
	Content    string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens", or provider-specific
}

// Truncated reports whether the response was cut off at the token limit.
func (r *Response) Truncated() bool {
	return r.StopReason == "max_tokens"
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
