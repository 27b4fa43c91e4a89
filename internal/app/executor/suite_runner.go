package executor

import (
	"context"

	"github.com/rs/zerolog"

	"judgebox/internal/domain/execution"
	"judgebox/internal/judge"
	"judgebox/internal/ports"
)

// suiteRunner evaluates one submission's test cases strictly in order. Each
// case is a separate isolation attempt with its own artifact.
type suiteRunner struct {
	runtime ports.Runner
	logger  *zerolog.Logger
}

func newSuiteRunner(runtime ports.Runner, logger *zerolog.Logger) *suiteRunner {
	return &suiteRunner{runtime: runtime, logger: logger}
}

func (r *suiteRunner) Run(ctx context.Context, submission execution.Submission, limits execution.Limits) execution.Evaluation {
	exec := newSuiteExecution(submission, limits)

	for idx := range submission.Tests {
		exec.executeTest(ctx, r.runtime, idx)
	}

	evaluation := exec.finalize()
	r.logger.Debug().
		Str("submission", submission.ID).
		Int("passed", evaluation.Summary.Passed).
		Int("total", evaluation.Summary.Total).
		Bool("degraded", evaluation.Degraded).
		Msg("suite finished")
	return evaluation
}

type suiteExecution struct {
	submission   execution.Submission
	limits       execution.Limits
	results      []execution.TestcaseResult
	runtimeError string
	degraded     bool
}

func newSuiteExecution(submission execution.Submission, limits execution.Limits) *suiteExecution {
	return &suiteExecution{
		submission: submission,
		limits:     limits,
		results:    make([]execution.TestcaseResult, len(submission.Tests)),
	}
}

// executeTest never aborts the suite: every failure becomes the case's Error.
func (s *suiteExecution) executeTest(ctx context.Context, runtime ports.Runner, idx int) {
	test := s.submission.Tests[idx]
	result := execution.TestcaseResult{
		Index:          idx,
		ExpectedOutput: judge.Normalize(test.ExpectedOutput),
	}

	outcome, err := runtime.Execute(ctx, execution.Spec{
		Source:   s.submission.Source,
		Language: s.submission.Language,
		Stdin:    test.Input,
		Limits:   s.limits,
	})
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = execution.KindOf(err)
	} else {
		result.ActualOutput = judge.Normalize(outcome.Stdout)
		result.Duration = outcome.Duration
		result.MemoryMB = outcome.MemoryMB
		result.TimedOut = outcome.TimedOut
		result.OutputTruncated = outcome.StdoutTruncated
		result.Isolation = outcome.Isolation
		if outcome.Err != nil {
			result.Error = outcome.Err.Error()
			result.ErrorKind = outcome.Err.Kind
		}
		// An errored run never passes, even when its partial output matches.
		result.Passed = outcome.Err == nil && judge.Equal(outcome.Stdout, test.ExpectedOutput)
		if outcome.Isolation == execution.IsolationLocal {
			s.degraded = true
		}
	}

	if result.Error != "" && s.runtimeError == "" {
		s.runtimeError = result.Error
	}
	s.results[idx] = result
}

func (s *suiteExecution) finalize() execution.Evaluation {
	return execution.Evaluation{
		SubmissionID: s.submission.ID,
		Language:     s.submission.Language,
		Limits:       s.limits,
		Results:      s.results,
		Summary:      execution.Summarize(s.results),
		RuntimeError: s.runtimeError,
		Degraded:     s.degraded,
	}
}
