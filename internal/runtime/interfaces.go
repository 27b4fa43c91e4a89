package runtime

import (
	"context"

	"judgebox/internal/domain/execution"
)

// Request is everything an Executor needs for one isolation attempt.
type Request struct {
	Artifact *Artifact
	Profile  Profile
	Stdin    string
	Limits   execution.Limits
}

// Executor runs a materialized artifact under one isolation strategy.
//
// Expected failures of the submitted program (compile errors, non-zero exits,
// timeouts) are reported in the returned Outcome. A non-nil error is returned
// only when the strategy itself cannot operate; errors matching
// execution.ErrEnvironmentUnavailable make the Orchestrator fall back.
type Executor interface {
	Isolation() execution.Isolation
	Run(ctx context.Context, req Request) (execution.Outcome, error)
	Close() error
}

// Prober is implemented by executors that depend on an external backend.
// Probe is called before an artifact is materialized.
type Prober interface {
	Probe(ctx context.Context) error
}
