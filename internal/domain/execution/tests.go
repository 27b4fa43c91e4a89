package execution

import "time"

// TestCase describes a single stdin/expected-stdout pair.
type TestCase struct {
	Input          string
	ExpectedOutput string
}

// TestcaseResult captures the outcome of evaluating a single TestCase.
//
// Index is the position of the case in the submitted sequence. A result with
// Passed == false carries either differing outputs or a non-empty Error.
type TestcaseResult struct {
	Index          int
	Passed         bool
	ActualOutput   string
	ExpectedOutput string
	Duration       time.Duration
	MemoryMB       float64
	Error          string
	ErrorKind      ErrorKind
	TimedOut       bool
	// OutputTruncated is set when ActualOutput lost bytes to the capture limit.
	OutputTruncated bool
	Isolation       Isolation
}

// Summary aggregates a sequence of TestcaseResult values.
type Summary struct {
	Passed      int
	Failed      int
	Total       int
	AvgDuration time.Duration
	MaxMemoryMB float64
}

// Summarize derives a Summary from results. An empty sequence yields zero
// averages and zero max memory.
func Summarize(results []TestcaseResult) Summary {
	summary := Summary{Total: len(results)}
	if len(results) == 0 {
		return summary
	}

	var total time.Duration
	for _, result := range results {
		if result.Passed {
			summary.Passed++
		}
		total += result.Duration
		if result.MemoryMB > summary.MaxMemoryMB {
			summary.MaxMemoryMB = result.MemoryMB
		}
	}

	summary.Failed = summary.Total - summary.Passed
	summary.AvgDuration = total / time.Duration(len(results))
	return summary
}
