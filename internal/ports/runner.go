package ports

import (
	"context"

	"judgebox/internal/domain/execution"
)

// Runner executes one (code, language, input) triple under the best
// available isolation strategy.
type Runner interface {
	Execute(ctx context.Context, spec execution.Spec) (execution.Outcome, error)
	// Supports returns an error matching execution.ErrUnsupportedLanguage for
	// unknown languages.
	Supports(lang execution.Language) error
	Languages() []execution.Language
	// ContainerStatus returns nil when container isolation is usable.
	ContainerStatus(ctx context.Context) error
	Close() error
}
