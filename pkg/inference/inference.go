// Package inference provides a chat-completion client for the receptionist's
// generative replies.
//
// The package abstracts chat completions behind a Provider interface, working
// with any OpenAI-compatible API (OpenAI, Azure OpenAI deployments, Ollama,
// vLLM, and others).
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithBaseURL(os.Getenv("AZURE_OPENAI_ENDPOINT")),
//	    inference.WithAPIKey(os.Getenv("AZURE_OPENAI_KEY")),
//	    inference.WithModel("gpt-4o-mini"),
//	)
//	defer client.Close()
//
//	resp, _ := client.Chat(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{
//	        {Role: inference.RoleUser, Content: "What are your hours?"},
//	    },
//	})
package inference

import "context"

// Provider is the chat-completion interface the dialogue policy consumes.
type Provider interface {
	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation, system instruction first.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
