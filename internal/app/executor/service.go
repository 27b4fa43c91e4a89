package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"judgebox/internal/domain/execution"
	"judgebox/internal/metrics"
	"judgebox/internal/ports"
)

// Config tunes a Service.
type Config struct {
	// Defaults apply to limits a submission leaves unset.
	Defaults execution.Limits
	// Maxima bound every submission; requested values never exceed them.
	Maxima execution.Limits
	// IntakeRate throttles ExecuteFromProducer in submissions per second.
	// Zero disables throttling.
	IntakeRate  rate.Limit
	IntakeBurst int
	Logger      *zerolog.Logger
}

// Service evaluates submissions through a runtime implementation.
type Service struct {
	runtime  ports.Runner
	suite    *suiteRunner
	defaults execution.Limits
	maxima   execution.Limits
	limiter  *rate.Limiter
	logger   *zerolog.Logger
}

var _ ports.Evaluator = (*Service)(nil)

// NewService constructs a Service with the provided runtime dependency.
func NewService(runtime ports.Runner, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	var limiter *rate.Limiter
	if cfg.IntakeRate > 0 {
		burst := cfg.IntakeBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.IntakeRate, burst)
	}

	return &Service{
		runtime:  runtime,
		suite:    newSuiteRunner(runtime, logger),
		defaults: cfg.Defaults,
		maxima:   cfg.Maxima,
		limiter:  limiter,
		logger:   logger,
	}
}

// Evaluate runs every test case of submission in order. An unsupported
// language is rejected before anything runs; every other failure is reported
// per case inside the Evaluation.
func (s *Service) Evaluate(ctx context.Context, submission execution.Submission) (execution.Evaluation, error) {
	if err := s.runtime.Supports(submission.Language); err != nil {
		return execution.Evaluation{}, err
	}

	limits := execution.Cap(submission.Limits, s.defaults, s.maxima)
	metrics.EvaluationsTotal.WithLabelValues(string(submission.Language)).Inc()

	evaluation := s.suite.Run(ctx, submission, limits)
	if evaluation.Degraded {
		s.logger.Warn().
			Str("submission", submission.ID).
			Str("language", string(submission.Language)).
			Msg("submission evaluated without container isolation")
	}
	return evaluation, nil
}

// Languages lists the languages the runtime supports.
func (s *Service) Languages() []execution.Language {
	return s.runtime.Languages()
}

// ContainerStatus reports whether container isolation is usable.
func (s *Service) ContainerStatus(ctx context.Context) error {
	return s.runtime.ContainerStatus(ctx)
}

// ExecuteFromProducer pulls submissions from the supplied producer and
// evaluates them with bounded parallelism. Cases of one submission always run
// sequentially; only independent submissions overlap.
//
// If maxSubmissions is greater than zero the execution stops after the
// specified number of submissions has been processed. Otherwise it keeps
// consuming until the context is cancelled or the producer signals completion
// via io.EOF.
//
// When onReport is provided it is invoked after every submission with the
// corresponding report. Malformed messages are skipped without stopping the
// loop; they count towards maxSubmissions.
func (s *Service) ExecuteFromProducer(
	ctx context.Context,
	producer ports.SubmissionProducer,
	maxSubmissions int,
	maxParallel int,
	onReport func(execution.Report),
) error {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallel)
	processed := 0

	finish := func(err error) error {
		wg.Wait()
		return err
	}

	for {
		if maxSubmissions > 0 && processed >= maxSubmissions {
			return finish(nil)
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return finish(nil)
			}
		}

		submission, err := producer.NextSubmission(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return finish(nil)
			}

			var malformed *execution.MalformedSubmissionError
			if errors.As(err, &malformed) {
				processed++
				s.rejectMalformed(malformed, onReport)
				continue
			}

			return finish(fmt.Errorf("get next submission: %w", err))
		}

		sem <- struct{}{}
		wg.Add(1)
		processed++
		go func(submission execution.Submission) {
			defer wg.Done()
			defer func() { <-sem }()

			report := s.report(ctx, submission)
			if onReport != nil {
				onReport(report)
			}
		}(submission)
	}
}

func (s *Service) report(ctx context.Context, submission execution.Submission) execution.Report {
	evaluation, err := s.Evaluate(ctx, submission)
	if err != nil {
		s.logger.Info().Err(err).Str("submission", submission.ID).Msg("submission rejected")
		return execution.Report{Submission: submission, Err: err}
	}
	return execution.Report{Submission: submission, Evaluation: &evaluation}
}

// rejectMalformed skips a message the producer could not decode. A rejected
// report is emitted only when the message could be named.
func (s *Service) rejectMalformed(malformed *execution.MalformedSubmissionError, onReport func(execution.Report)) {
	s.logger.Warn().Err(malformed.Err).Str("submission", malformed.ID).Msg("skipping malformed submission")
	if malformed.ID == "" || onReport == nil {
		return
	}
	onReport(execution.Report{Submission: execution.Submission{ID: malformed.ID}, Err: malformed})
}

// Close releases any resources owned by the underlying runtime.
func (s *Service) Close() error {
	return s.runtime.Close()
}
