package llm

import "context"

// Document is an inline attachment sent alongside a prompt. Data must already
// be base64-encoded; MediaType is the attachment MIME type (application/pdf or
// an image type).
type Document struct {
	MediaType string
	Data      string
}

// GenerateInput carries one generation request.
type GenerateInput struct {
	Prompt      string
	Document    *Document
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Client generates text from a prompt, optionally grounded on an attached
// document. Implementations return the raw model text.
type Client interface {
	Generate(ctx context.Context, input GenerateInput) (string, error)
}
