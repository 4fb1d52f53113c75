package domain

import "context"

// Provider is the interface all LLM completion backends implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages    []Message
	Model       string // empty = provider default
	MaxTokens   int
	Temperature float64
}

type CompletionResponse struct {
	Content      string
	FinishReason string // stop | length
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
