package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"judgebox/internal/domain/execution"
	"judgebox/internal/infra/codec"
)

func TestNewConsumerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewConsumer(Config{}); err == nil {
		t.Fatalf("expected error when brokers missing")
	}
	if _, err := NewConsumer(Config{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error when topic missing")
	}
}

func TestNewConsumerAppliesDefaults(t *testing.T) {
	t.Parallel()

	consumer, err := NewConsumer(Config{
		Brokers: []string{"localhost:9092"},
		Topic:   "submissions",
	})
	if err != nil {
		t.Fatalf("NewConsumer returned error: %v", err)
	}
	if err := consumer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestConsumerNextSubmissionParsesEnvelope(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(codec.SubmissionEnvelope{
		Language: string(execution.LanguagePython),
		Source:   "print(input())",
		Limits:   &codec.LimitsEnvelope{TimeoutSeconds: 2, MemoryLimitMB: 128},
		Tests:    []codec.TestCaseEnvelope{{Input: "1", ExpectedOutput: "1"}},
	})
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}

	reader := &fakeReader{messages: []kafkago.Message{{Key: []byte("sub-1"), Value: payload}}}
	consumer := newConsumer(reader)

	sub, err := consumer.NextSubmission(context.Background())
	if err != nil {
		t.Fatalf("NextSubmission returned error: %v", err)
	}

	if sub.ID != "sub-1" {
		t.Fatalf("expected submission ID from key, got %q", sub.ID)
	}
	if sub.Language != execution.LanguagePython {
		t.Fatalf("unexpected language: %q", sub.Language)
	}
	if sub.Limits.Timeout != 2*time.Second || sub.Limits.MemoryMB != 128 {
		t.Fatalf("unexpected limits: %+v", sub.Limits)
	}
	if len(sub.Tests) != 1 {
		t.Fatalf("expected one test case")
	}
}

func TestConsumerNextSubmissionIDFallsBackToOffset(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"language":"python","source":"print(1)"}`)
	reader := &fakeReader{messages: []kafkago.Message{{Topic: "submissions", Partition: 2, Offset: 41, Value: payload}}}

	sub, err := newConsumer(reader).NextSubmission(context.Background())
	if err != nil {
		t.Fatalf("NextSubmission returned error: %v", err)
	}
	if sub.ID != "submissions:2:41" {
		t.Fatalf("unexpected fallback id %q", sub.ID)
	}
}

func TestConsumerPayloadIDWinsOverKey(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"payload-id","language":"python","source":"print(1)"}`)
	reader := &fakeReader{messages: []kafkago.Message{{Key: []byte("key-id"), Value: payload}}}

	sub, err := newConsumer(reader).NextSubmission(context.Background())
	if err != nil {
		t.Fatalf("NextSubmission returned error: %v", err)
	}
	if sub.ID != "payload-id" {
		t.Fatalf("expected payload id, got %q", sub.ID)
	}
}

func TestConsumerNextSubmissionValidationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		envelope codec.SubmissionEnvelope
		match    string
	}{
		{
			name:     "missing source",
			envelope: codec.SubmissionEnvelope{Language: string(execution.LanguagePython)},
			match:    "missing source",
		},
		{
			name:     "missing language",
			envelope: codec.SubmissionEnvelope{Source: "print('hi')"},
			match:    "missing language",
		},
		{
			name: "unknown type",
			envelope: codec.SubmissionEnvelope{
				Type:     "weird",
				Language: string(execution.LanguagePython),
				Source:   "print('hi')",
			},
			match: "unknown message type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			payload, err := json.Marshal(tc.envelope)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			consumer := newConsumer(&fakeReader{messages: []kafkago.Message{{Key: []byte("k1"), Value: payload}}})

			_, err = consumer.NextSubmission(context.Background())
			if err == nil || !strings.Contains(err.Error(), tc.match) {
				t.Fatalf("expected error containing %q, got %v", tc.match, err)
			}
			var malformed *execution.MalformedSubmissionError
			if !errors.As(err, &malformed) || malformed.ID != "k1" {
				t.Fatalf("expected malformed error naming k1, got %v", err)
			}
		})
	}
}

func TestConsumerNextSubmissionDoneMessage(t *testing.T) {
	t.Parallel()

	payload, _ := json.Marshal(codec.SubmissionEnvelope{Type: codec.MessageTypeDone})
	consumer := newConsumer(&fakeReader{messages: []kafkago.Message{{Value: payload}}})

	_, err := consumer.NextSubmission(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF for done message, got %v", err)
	}
}

func TestConsumerPropagatesReaderError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("broker gone")
	consumer := newConsumer(&fakeReader{err: wantErr})

	if _, err := consumer.NextSubmission(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected reader error, got %v", err)
	}
}

func TestConsumerCloseProxiesUnderlyingReader(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{}
	consumer := newConsumer(reader)

	if err := consumer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !reader.closed {
		t.Fatalf("expected reader to be closed")
	}
}

func TestPublisherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPublisher(PublisherConfig{}); err == nil {
		t.Fatalf("expected error when brokers missing")
	}
	if _, err := NewPublisher(PublisherConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error when topic missing")
	}
}

func TestNewPublisherValidConfig(t *testing.T) {
	t.Parallel()

	publisher, err := NewPublisher(PublisherConfig{Brokers: []string{"localhost:9092"}, Topic: "evaluations"})
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestPublisherPublishesReport(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	publisher := newPublisher(writer)

	report := execution.Report{
		Submission: execution.Submission{ID: "sub-42", Language: execution.LanguageCPP},
		Evaluation: &execution.Evaluation{
			Results: []execution.TestcaseResult{
				{
					Index:          0,
					ActualOutput:   "2",
					ExpectedOutput: "4",
					Duration:       200 * time.Millisecond,
					MemoryMB:       64,
					Error:          "Runtime error (exit code 1)",
					ErrorKind:      execution.KindRuntimeError,
					Isolation:      execution.IsolationContainer,
				},
			},
			Summary: execution.Summary{
				Failed:      1,
				Total:       1,
				AvgDuration: 200 * time.Millisecond,
				MaxMemoryMB: 64,
			},
			RuntimeError: "Runtime error (exit code 1)",
		},
	}

	if err := publisher.PublishReport(context.Background(), report); err != nil {
		t.Fatalf("PublishReport returned error: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	if string(writer.messages[0].Key) != "sub-42" {
		t.Fatalf("expected message keyed by submission, got %q", writer.messages[0].Key)
	}

	var envelope codec.EvaluationEnvelope
	if err := json.Unmarshal(writer.messages[0].Value, &envelope); err != nil {
		t.Fatalf("failed to unmarshal evaluation envelope: %v", err)
	}

	if envelope.ID != "sub-42" {
		t.Fatalf("unexpected ID in envelope: %q", envelope.ID)
	}
	if envelope.Summary.Failed != 1 || envelope.Summary.AvgExecutionTimeMs != 200 {
		t.Fatalf("unexpected summary: %+v", envelope.Summary)
	}
	if len(envelope.Results) != 1 || envelope.Results[0].ErrorKind != string(execution.KindRuntimeError) {
		t.Fatalf("unexpected results: %+v", envelope.Results)
	}
	if envelope.RuntimeError == nil || *envelope.RuntimeError != "Runtime error (exit code 1)" {
		t.Fatalf("expected runtime error to propagate")
	}

	if err := publisher.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !writer.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestPublisherCloseWithNilWriter(t *testing.T) {
	t.Parallel()

	publisher := &Publisher{}
	if err := publisher.Close(); err != nil {
		t.Fatalf("Close should succeed when writer nil, got %v", err)
	}
}

func TestPublisherPublishErrors(t *testing.T) {
	t.Parallel()

	t.Run("writer nil", func(t *testing.T) {
		publisher := &Publisher{}
		err := publisher.PublishReport(context.Background(), execution.Report{})
		if err == nil || !strings.Contains(err.Error(), "not initialized") {
			t.Fatalf("expected not initialized error, got %v", err)
		}
	})

	t.Run("writer failure", func(t *testing.T) {
		publisher := newPublisher(&fakeWriter{err: errors.New("boom")})
		err := publisher.PublishReport(context.Background(), execution.Report{Submission: execution.Submission{ID: "123"}})
		if err == nil || !strings.Contains(err.Error(), "write message") {
			t.Fatalf("expected write failure, got %v", err)
		}
	})
}

type fakeReader struct {
	messages []kafkago.Message
	err      error
	index    int
	closed   bool
}

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafkago.Message, error) {
	if r.index < len(r.messages) {
		msg := r.messages[r.index]
		r.index++
		return msg, nil
	}
	if r.err != nil {
		return kafkago.Message{}, r.err
	}
	return kafkago.Message{}, io.EOF
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}
