package ports

import (
	"context"

	"judgebox/internal/domain/execution"
)

// SubmissionProducer yields submissions from an external source. It returns
// io.EOF once the source signals there is nothing more to consume.
type SubmissionProducer interface {
	NextSubmission(ctx context.Context) (execution.Submission, error)
}
