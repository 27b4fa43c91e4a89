package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"judgebox/internal/domain/execution"
	"judgebox/internal/metrics"
)

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Registry     *Registry
	Materializer *Materializer
	// Primary is the preferred strategy, normally the container executor.
	// It may be nil when containers are disabled or the client could not be built.
	Primary Executor
	// Fallback runs when Primary is absent or reports EnvironmentUnavailable.
	Fallback Executor
	Logger   *zerolog.Logger
}

// Orchestrator runs one (code, language, input) triple, preferring the
// primary strategy and substituting the fallback when the primary's backend
// is unavailable.
//
// The substitution trades isolation for availability: a host without a
// container runtime executes submissions as unsandboxed host processes. Every
// Outcome records the Isolation that produced it, each downgrade increments
// metrics.FallbacksTotal and logs a warning, so the downgrade is never silent.
type Orchestrator struct {
	registry     *Registry
	materializer *Materializer
	primary      Executor
	fallback     Executor
	logger       *zerolog.Logger
}

// NewOrchestrator validates cfg and returns an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("orchestrator: registry is required")
	}
	if cfg.Materializer == nil {
		return nil, fmt.Errorf("orchestrator: materializer is required")
	}
	if cfg.Fallback == nil {
		return nil, fmt.Errorf("orchestrator: fallback executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Orchestrator{
		registry:     cfg.Registry,
		materializer: cfg.Materializer,
		primary:      cfg.Primary,
		fallback:     cfg.Fallback,
		logger:       logger,
	}, nil
}

// Execute runs spec and returns its normalized outcome. The error is non-nil
// only for an unsupported language or a host-side failure such as an
// unwritable work directory; environment failures of the primary strategy
// never escape.
func (o *Orchestrator) Execute(ctx context.Context, spec execution.Spec) (execution.Outcome, error) {
	profile, err := o.registry.Resolve(spec.Language)
	if err != nil {
		return execution.Outcome{}, err
	}

	if o.primary != nil {
		outcome, err := o.attempt(ctx, o.primary, profile, spec)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, execution.ErrEnvironmentUnavailable) {
			return execution.Outcome{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return execution.Outcome{}, execution.Internal("execution cancelled", ctxErr)
		}

		metrics.FallbacksTotal.WithLabelValues(string(spec.Language)).Inc()
		o.logger.Warn().
			Err(err).
			Str("language", string(spec.Language)).
			Str("from", string(o.primary.Isolation())).
			Str("to", string(o.fallback.Isolation())).
			Msg("isolation backend unavailable, falling back")
	}

	return o.attempt(ctx, o.fallback, profile, spec)
}

// attempt owns the artifact for exactly one strategy run. The artifact is
// released on every exit path, so a failed attempt leaves nothing behind for
// the next one.
func (o *Orchestrator) attempt(ctx context.Context, exec Executor, profile Profile, spec execution.Spec) (execution.Outcome, error) {
	if prober, ok := exec.(Prober); ok {
		if err := prober.Probe(ctx); err != nil {
			return execution.Outcome{}, err
		}
	}

	artifact, err := o.materializer.Materialize(spec.Source, profile)
	if err != nil {
		return execution.Outcome{}, execution.Internal("materialize source", err)
	}
	defer o.materializer.Release(artifact)

	outcome, err := exec.Run(ctx, Request{
		Artifact: artifact,
		Profile:  profile,
		Stdin:    spec.Stdin,
		Limits:   spec.Limits.Normalize(),
	})
	if err != nil {
		return execution.Outcome{}, err
	}

	outcome.Isolation = exec.Isolation()
	observe(spec.Language, outcome)
	return outcome, nil
}

// Supports reports whether lang is registered.
func (o *Orchestrator) Supports(lang execution.Language) error {
	_, err := o.registry.Resolve(lang)
	return err
}

// Languages lists the registered languages.
func (o *Orchestrator) Languages() []execution.Language {
	return o.registry.Languages()
}

// ContainerStatus probes the primary backend. It returns an error matching
// execution.ErrEnvironmentUnavailable when the primary is absent or down.
func (o *Orchestrator) ContainerStatus(ctx context.Context) error {
	if o.primary == nil {
		return execution.Unavailable(errors.New("container isolation disabled"))
	}
	if prober, ok := o.primary.(Prober); ok {
		return prober.Probe(ctx)
	}
	return nil
}

// Close releases both executors.
func (o *Orchestrator) Close() error {
	var errs []error
	if o.primary != nil {
		if err := o.primary.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s executor: %w", o.primary.Isolation(), err))
		}
	}
	if err := o.fallback.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%s executor: %w", o.fallback.Isolation(), err))
	}
	return errors.Join(errs...)
}

func observe(lang execution.Language, outcome execution.Outcome) {
	status := "ok"
	if outcome.Err != nil {
		status = string(outcome.Err.Kind)
	}
	metrics.ExecutionsTotal.WithLabelValues(string(lang), string(outcome.Isolation), status).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(lang), string(outcome.Isolation)).Observe(float64(outcome.Duration.Milliseconds()))
	if outcome.MemoryMB > 0 {
		metrics.MemoryUsage.WithLabelValues(string(lang)).Observe(outcome.MemoryMB)
	}
}
