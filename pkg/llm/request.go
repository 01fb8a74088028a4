package llm

// ChatRequest represents a streaming chat completion request.
type ChatRequest struct {
	Model    string    `json:"model"`    // Model name (e.g., "mistral-small")
	Messages []Message `json:"messages"` // System instruction followed by the user context
}
