package llm

import "context"

// Provider is the LLM capability consumed by the agent runtime. The provider
// owns transport; concurrency caps and retries wrap it from the outside.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}
