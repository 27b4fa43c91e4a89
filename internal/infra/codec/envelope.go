// Package codec holds the JSON wire format shared by the transports.
package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"judgebox/internal/domain/execution"
)

const (
	MessageTypeSubmission = "submission"
	MessageTypeDone       = "done"
)

// SubmissionEnvelope is the inbound message. A message with type "done"
// ends consumption.
type SubmissionEnvelope struct {
	Type     string             `json:"type,omitempty"`
	ID       string             `json:"id,omitempty"`
	Language string             `json:"language"`
	Source   string             `json:"source"`
	Limits   *LimitsEnvelope    `json:"limits,omitempty"`
	Tests    []TestCaseEnvelope `json:"tests,omitempty"`
}

type LimitsEnvelope struct {
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
	MemoryLimitMB  int64   `json:"memory_limit_mb,omitempty"`
}

type TestCaseEnvelope struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// EvaluationEnvelope is the outbound message for one submission.
type EvaluationEnvelope struct {
	ID           string           `json:"id"`
	Language     string           `json:"language,omitempty"`
	Results      []ResultEnvelope `json:"results"`
	Summary      SummaryEnvelope  `json:"summary"`
	RuntimeError *string          `json:"runtime_error"`
	Degraded     bool             `json:"degraded"`
	Error        string           `json:"error,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

type ResultEnvelope struct {
	TestcaseIndex   int     `json:"testcase_index"`
	Passed          bool    `json:"passed"`
	ActualOutput    string  `json:"actual_output"`
	ExpectedOutput  string  `json:"expected_output"`
	ExecutionTimeMs float64 `json:"execution_time_ms"`
	MemoryUsedMB    float64 `json:"memory_used_mb"`
	Error           *string `json:"error"`
	ErrorKind       string  `json:"error_kind,omitempty"`
	TimedOut        bool    `json:"timed_out"`
	OutputTruncated bool    `json:"output_truncated,omitempty"`
	Isolation       string  `json:"isolation,omitempty"`
}

type SummaryEnvelope struct {
	Passed             int     `json:"passed"`
	Failed             int     `json:"failed"`
	Total              int     `json:"total"`
	AvgExecutionTimeMs float64 `json:"avg_execution_time_ms"`
	MaxMemoryMB        float64 `json:"max_memory_mb"`
}

// DecodeSubmission parses an inbound message. fallbackID names the
// submission when the payload carries no id. A done message yields io.EOF;
// anything undecodable yields a *execution.MalformedSubmissionError.
func DecodeSubmission(data []byte, fallbackID string) (execution.Submission, error) {
	var envelope SubmissionEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return execution.Submission{}, Malformed(fallbackID, fmt.Errorf("decode message: %w", err))
	}

	msgType := envelope.Type
	if msgType == "" {
		msgType = MessageTypeSubmission
	}

	id := envelope.ID
	if id == "" {
		id = fallbackID
	}

	switch msgType {
	case MessageTypeSubmission:
		submission, err := envelope.toSubmission(id)
		if err != nil {
			return execution.Submission{}, Malformed(id, err)
		}
		return submission, nil
	case MessageTypeDone:
		return execution.Submission{}, io.EOF
	default:
		return execution.Submission{}, Malformed(id, fmt.Errorf("unknown message type %q", msgType))
	}
}

// Malformed wraps err as a decode failure for the message named id.
func Malformed(id string, err error) error {
	return &execution.MalformedSubmissionError{ID: id, Err: err}
}

func (e SubmissionEnvelope) toSubmission(id string) (execution.Submission, error) {
	if e.Source == "" {
		return execution.Submission{}, fmt.Errorf("submission message missing source")
	}
	if e.Language == "" {
		return execution.Submission{}, fmt.Errorf("submission message missing language")
	}

	return execution.Submission{
		ID:       id,
		Language: execution.Language(e.Language),
		Source:   e.Source,
		Limits:   e.toLimits(),
		Tests:    e.toTests(),
	}, nil
}

func (e SubmissionEnvelope) toLimits() execution.Limits {
	if e.Limits == nil {
		return execution.Limits{}
	}

	var limits execution.Limits
	if e.Limits.TimeoutSeconds > 0 {
		limits.Timeout = time.Duration(e.Limits.TimeoutSeconds * float64(time.Second))
	}
	if e.Limits.MemoryLimitMB > 0 {
		limits.MemoryMB = e.Limits.MemoryLimitMB
	}
	return limits
}

func (e SubmissionEnvelope) toTests() []execution.TestCase {
	if len(e.Tests) == 0 {
		return nil
	}

	tests := make([]execution.TestCase, len(e.Tests))
	for idx, test := range e.Tests {
		tests[idx] = execution.TestCase{
			Input:          test.Input,
			ExpectedOutput: test.ExpectedOutput,
		}
	}
	return tests
}

// EncodeSubmission is the inverse of DecodeSubmission.
func EncodeSubmission(submission execution.Submission) ([]byte, error) {
	envelope := SubmissionEnvelope{
		Type:     MessageTypeSubmission,
		ID:       submission.ID,
		Language: string(submission.Language),
		Source:   submission.Source,
	}
	if submission.Limits != (execution.Limits{}) {
		envelope.Limits = &LimitsEnvelope{
			TimeoutSeconds: submission.Limits.Timeout.Seconds(),
			MemoryLimitMB:  submission.Limits.MemoryMB,
		}
	}
	for _, test := range submission.Tests {
		envelope.Tests = append(envelope.Tests, TestCaseEnvelope{
			Input:          test.Input,
			ExpectedOutput: test.ExpectedOutput,
		})
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}
	return payload, nil
}

// EncodeReport serializes a report as an EvaluationEnvelope.
func EncodeReport(report execution.Report) ([]byte, error) {
	payload, err := json.Marshal(NewEvaluationEnvelope(report))
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation: %w", err)
	}
	return payload, nil
}

// NewEvaluationEnvelope maps a report onto the wire shape. A rejected
// submission carries Error and an empty result list.
func NewEvaluationEnvelope(report execution.Report) EvaluationEnvelope {
	envelope := EvaluationEnvelope{
		ID:        report.Submission.ID,
		Language:  string(report.Submission.Language),
		Results:   []ResultEnvelope{},
		Timestamp: time.Now().UTC(),
	}
	if report.Err != nil {
		envelope.Error = report.Err.Error()
	}
	if report.Evaluation != nil {
		envelope.Results = NewResultEnvelopes(report.Evaluation.Results)
		envelope.Summary = NewSummaryEnvelope(report.Evaluation.Summary)
		envelope.RuntimeError = optional(report.Evaluation.RuntimeError)
		envelope.Degraded = report.Evaluation.Degraded
	}
	return envelope
}

func NewResultEnvelopes(results []execution.TestcaseResult) []ResultEnvelope {
	out := make([]ResultEnvelope, len(results))
	for i, result := range results {
		out[i] = ResultEnvelope{
			TestcaseIndex:   result.Index,
			Passed:          result.Passed,
			ActualOutput:    result.ActualOutput,
			ExpectedOutput:  result.ExpectedOutput,
			ExecutionTimeMs: Milliseconds(result.Duration),
			MemoryUsedMB:    Round2(result.MemoryMB),
			Error:           optional(result.Error),
			ErrorKind:       string(result.ErrorKind),
			TimedOut:        result.TimedOut,
			OutputTruncated: result.OutputTruncated,
			Isolation:       string(result.Isolation),
		}
	}
	return out
}

func NewSummaryEnvelope(summary execution.Summary) SummaryEnvelope {
	return SummaryEnvelope{
		Passed:             summary.Passed,
		Failed:             summary.Failed,
		Total:              summary.Total,
		AvgExecutionTimeMs: Milliseconds(summary.AvgDuration),
		MaxMemoryMB:        Round2(summary.MaxMemoryMB),
	}
}

// Milliseconds renders d as fractional milliseconds rounded to two places.
func Milliseconds(d time.Duration) float64 {
	return Round2(float64(d) / float64(time.Millisecond))
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
