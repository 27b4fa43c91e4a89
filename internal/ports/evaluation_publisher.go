package ports

import (
	"context"

	"judgebox/internal/domain/execution"
)

// EvaluationPublisher publishes evaluation reports to an external system.
type EvaluationPublisher interface {
	PublishReport(ctx context.Context, report execution.Report) error
	Close() error
}
