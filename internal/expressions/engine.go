package expressions

import "context"

// Engine evaluates an expression against run-scoped data.
// Implemented by CELEngine (stage conditions) and GoJQEngine (output extraction).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
