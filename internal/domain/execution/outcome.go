package execution

import "time"

// Spec is one (code, language, input) execution request. It is built per
// call and never persisted.
type Spec struct {
	Source   string
	Language Language
	Stdin    string
	Limits   Limits
}

// Outcome is the normalized result of one isolation attempt, independent of
// the strategy that produced it.
type Outcome struct {
	Stdout string
	// StdoutTruncated is set when output beyond the capture limit was dropped.
	StdoutTruncated bool
	Duration        time.Duration
	// MemoryMB is best-effort. When MemoryEstimated is set the figure is a
	// fixed fraction of the ceiling, not a measurement. Zero means unmeasured.
	MemoryMB        float64
	MemoryEstimated bool
	Err             *Error
	TimedOut        bool
	Isolation       Isolation
}

// TimedOutOutcome builds the outcome of a run killed at its timeout. The
// reported duration is capped at the timeout.
func TimedOutOutcome(stdout string, timeout time.Duration) Outcome {
	return Outcome{
		Stdout:   stdout,
		Duration: timeout,
		Err:      TimeLimitExceeded(timeout),
		TimedOut: true,
	}
}
