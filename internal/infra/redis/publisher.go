package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"judgebox/internal/domain/execution"
	"judgebox/internal/infra/codec"
	"judgebox/internal/ports"
)

var _ ports.EvaluationPublisher = (*Publisher)(nil)

// PublisherConfig configures the stream evaluations are appended to.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen approximately trims the stream. Zero keeps every entry.
	MaxLen int64
}

// Publisher appends evaluation envelopes to a stream with XADD.
type Publisher struct {
	client streamClient
	stream string
	maxLen int64
}

// NewPublisher connects a Publisher using the supplied configuration.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address must be provided")
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream must be provided")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newPublisher(client, cfg.Stream, cfg.MaxLen), nil
}

func newPublisher(client streamClient, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// PublishReport appends the encoded report to the stream.
func (p *Publisher) PublishReport(ctx context.Context, report execution.Report) error {
	if p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := codec.EncodeReport(report)
	if err != nil {
		return err
	}

	args := &goredis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":            report.Submission.ID,
			evaluationField: string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append to stream %q: %w", p.stream, err)
	}
	return nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
