// Package llm provides narration writers backed by vision-capable LLMs.
//
// The factory creates a provider client from configuration and wraps it
// in a token-bucket rate limiter. Supported providers:
//   - Google Gemini (default), with automatic model selection
//   - Anthropic Claude
//
// Both providers share the prompt built by the prompt package and classify
// failures into domain error kinds: quota and rate-limit responses become
// ErrResourceExhausted, server errors ErrTransient, and rejected requests
// ErrPermanent.
package llm
