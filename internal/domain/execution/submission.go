package execution

import (
	"errors"
	"fmt"
)

// ErrMalformedSubmission marks an intake message that could not be turned
// into a Submission. The transport has already consumed it.
var ErrMalformedSubmission = errors.New("malformed submission")

// MalformedSubmissionError wraps a decode failure. ID is empty when the
// message carried nothing to name it by.
type MalformedSubmissionError struct {
	ID  string
	Err error
}

func (e *MalformedSubmissionError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedSubmission, e.Err)
}

func (e *MalformedSubmissionError) Unwrap() []error {
	return []error{ErrMalformedSubmission, e.Err}
}

// Submission is a unit of source code to evaluate against an ordered list of
// test cases.
type Submission struct {
	ID       string
	Language Language
	Source   string
	Limits   Limits
	Tests    []TestCase
}

// Evaluation is the per-case detail and aggregate summary for one Submission.
type Evaluation struct {
	SubmissionID string
	Language     Language
	Limits       Limits
	Results      []TestcaseResult
	Summary      Summary
	// RuntimeError is the first per-case error encountered, in case order.
	RuntimeError string
	// Degraded is set when any case ran without container isolation.
	Degraded bool
}

// Report pairs a Submission with its evaluation or the error that rejected it.
type Report struct {
	Submission Submission
	Evaluation *Evaluation
	Err        error
}
