package extract

import "context"

// Backend turns a prompt into the model's raw text response.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt string) (string, error)

func (f BackendFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
