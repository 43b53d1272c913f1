package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Provider is the abstraction over the external content-generation service.
// It is stateless per call and safe for concurrent use; a single instance is
// injected into every component that generates content.
type Provider interface {
	// Generate sends a prompt and returns the raw model output. The
	// response Content is the model text as-is; callers extract and
	// validate JSON themselves.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured with.
	ModelID() string
}

// Request describes a single completion call.
type Request struct {
	// System sets the model's role and constraints. Optional.
	System string

	// Prompt is the user message for this single-turn call.
	Prompt string

	// MaxTokens bounds the response length. Zero means provider default.
	MaxTokens int

	// Temperature controls randomness, 0.0 - 1.0.
	Temperature float64
}

// Response holds the model output.
type Response struct {
	// Content is the generated text. JSON payloads are embedded in it and
	// must be extracted by the caller.
	Content string

	// Usage reports token consumption for this call.
	Usage Usage

	// Model is the actual model that served the request.
	Model string
}

// Usage tracks token consumption for a single call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ExtractJSON returns the first top-level JSON array or object embedded in
// the model output, or an error when none is present. Models frequently wrap
// JSON in prose or code fences despite instructions not to.
func ExtractJSON(text string) (json.RawMessage, error) {
	for _, pair := range [][2]byte{{'[', ']'}, {'{', '}'}} {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])
		if start >= 0 && end > start {
			return json.RawMessage(text[start : end+1]), nil
		}
	}
	return nil, &ErrInvalidResponse{Content: text, Reason: "response contains no JSON payload"}
}
