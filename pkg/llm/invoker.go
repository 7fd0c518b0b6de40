// Package llm provides the model invocation boundary for cascade.
// It defines a provider-agnostic Invoker interface, a fixed registry of
// known models, and prompt-complexity based auto-selection.
package llm

import "context"

// Invoker is the model invocation adapter consumed by the execution
// engine. Given a model identifier and a fully assembled prompt it
// returns the generated text plus token counts, or a transport error
// (pkg/errors.ProviderError) when the provider is unreachable, times
// out, or rate-limits the request.
type Invoker interface {
	// Invoke sends a single prompt to the named model and blocks until
	// the response is complete.
	Invoke(ctx context.Context, model, prompt string) (*Result, error)
}

// Result contains the response of a single model invocation.
type Result struct {
	// Text is the raw generated output.
	Text string

	// Usage contains token consumption reported by the provider.
	Usage TokenUsage
}

// TokenUsage tracks token consumption for cost calculation.
type TokenUsage struct {
	// PromptTokens is the number of tokens in the prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens in the generated output.
	CompletionTokens int

	// TotalTokens is the sum of prompt and completion tokens.
	TotalTokens int
}

// Add accumulates another usage record into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
