package ports

import (
	"context"

	"judgebox/internal/domain/execution"
)

// Evaluator runs a whole submission against its test cases.
type Evaluator interface {
	Evaluate(ctx context.Context, submission execution.Submission) (execution.Evaluation, error)
	Languages() []execution.Language
	// ContainerStatus reports whether container isolation is currently usable.
	ContainerStatus(ctx context.Context) error
}
