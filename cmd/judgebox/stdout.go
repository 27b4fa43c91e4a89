package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"judgebox/internal/domain/execution"
	"judgebox/internal/infra/codec"
	"judgebox/internal/ports"
)

// stdoutPublisher writes one evaluation envelope per line.
type stdoutPublisher struct {
	mu sync.Mutex
	w  io.Writer
}

var _ ports.EvaluationPublisher = (*stdoutPublisher)(nil)

func newStdoutPublisher(w io.Writer) *stdoutPublisher {
	return &stdoutPublisher{w: w}
}

func (p *stdoutPublisher) PublishReport(_ context.Context, report execution.Report) error {
	payload, err := codec.EncodeReport(report)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(p.w, "%s\n", payload); err != nil {
		return fmt.Errorf("write evaluation: %w", err)
	}
	return nil
}

func (p *stdoutPublisher) Close() error {
	return nil
}
