package domain

// GenerationRequest is the provider-agnostic input for a text generation backend:
// a single free-text prompt plus a bounded randomness parameter.
type GenerationRequest struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}
