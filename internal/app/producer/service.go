// Package producer serves submissions from memory, typically loaded from a
// batch file.
package producer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"judgebox/internal/domain/execution"
	"judgebox/internal/ports"
)

// Service implements ports.SubmissionProducer over an in-memory queue.
type Service struct {
	mu          sync.Mutex
	submissions []execution.Submission
	index       int
}

var _ ports.SubmissionProducer = (*Service)(nil)

// NewService builds a producer that yields submissions in order.
func NewService(submissions ...execution.Submission) *Service {
	s := &Service{}
	for _, submission := range submissions {
		s.AddSubmission(submission)
	}
	return s
}

// NextSubmission returns the next queued submission or io.EOF once drained.
func (s *Service) NextSubmission(ctx context.Context) (execution.Submission, error) {
	select {
	case <-ctx.Done():
		return execution.Submission{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index >= len(s.submissions) {
		return execution.Submission{}, io.EOF
	}

	submission := s.submissions[s.index]
	s.index++

	return submission, nil
}

// AddSubmission appends to the queue, assigning an id when missing.
func (s *Service) AddSubmission(submission execution.Submission) {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.submissions = append(s.submissions, submission)
}

type batchFile struct {
	Submissions []batchSubmission `yaml:"submissions"`
}

type batchSubmission struct {
	ID            string          `yaml:"id"`
	Language      string          `yaml:"language"`
	Source        string          `yaml:"source"`
	Timeout       seconds         `yaml:"timeout"`
	MemoryLimitMB int64           `yaml:"memory_limit_mb"`
	Tests         []batchTestCase `yaml:"tests"`
}

// seconds decodes a bare number of seconds or a Go duration string.
type seconds time.Duration

func (s *seconds) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timeout must be a scalar", value.Line)
	}
	if v, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*s = seconds(v * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid timeout %q", value.Line, value.Value)
	}
	*s = seconds(d)
	return nil
}

type batchTestCase struct {
	Input          string `yaml:"input"`
	ExpectedOutput string `yaml:"expected_output"`
}

// LoadFile reads a YAML batch of submissions.
func LoadFile(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML batch of submissions.
func Parse(data []byte) (*Service, error) {
	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}

	s := NewService()
	for i, entry := range batch.Submissions {
		if entry.Language == "" || entry.Source == "" {
			return nil, fmt.Errorf("batch submission %d: language and source are required", i)
		}

		tests := make([]execution.TestCase, len(entry.Tests))
		for j, tc := range entry.Tests {
			tests[j] = execution.TestCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput}
		}

		s.AddSubmission(execution.Submission{
			ID:       entry.ID,
			Language: execution.Language(entry.Language),
			Source:   entry.Source,
			Limits:   execution.Limits{Timeout: time.Duration(entry.Timeout), MemoryMB: entry.MemoryLimitMB},
			Tests:    tests,
		})
	}
	return s, nil
}
