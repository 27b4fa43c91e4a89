// Package redis carries submissions and evaluations over Redis Streams.
package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"judgebox/internal/domain/execution"
	"judgebox/internal/infra/codec"
	"judgebox/internal/ports"
)

const (
	submissionField = "submission"
	evaluationField = "evaluation"

	defaultGroup = "judgebox"
	defaultBlock = 2 * time.Second
)

// Config describes the stream a Consumer reads from.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	// Consumer names this process inside the group. Defaults to the hostname.
	Consumer string
	// Block bounds each XREADGROUP call so cancellation is noticed.
	Block  time.Duration
	Logger *zerolog.Logger
}

// streamClient is the subset of the go-redis client the adapters use.
type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *goredis.StatusCmd
	XReadGroup(ctx context.Context, a *goredis.XReadGroupArgs) *goredis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *goredis.IntCmd
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	Close() error
}

var _ ports.SubmissionProducer = (*Consumer)(nil)

// Consumer reads submission envelopes from a stream through a consumer group.
// Each entry is acknowledged as soon as it is read, so a crash mid-evaluation
// drops that submission rather than replaying it.
type Consumer struct {
	client   streamClient
	stream   string
	group    string
	consumer string
	block    time.Duration
	logger   *zerolog.Logger

	groupMu    sync.Mutex
	groupReady bool
}

// NewConsumer connects a Consumer using the supplied configuration.
func NewConsumer(cfg Config) (*Consumer, error) {
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
	return newConsumer(client, cfg), nil
}

func newConsumer(client streamClient, cfg Config) *Consumer {
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = consumerName()
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Consumer{
		client:   client,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		block:    cfg.Block,
		logger:   logger,
	}
}

func consumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
}

// NextSubmission blocks until the next entry arrives or ctx ends. A done
// envelope yields io.EOF.
func (c *Consumer) NextSubmission(ctx context.Context) (execution.Submission, error) {
	if err := c.ensureGroup(ctx); err != nil {
		return execution.Submission{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return execution.Submission{}, err
		}

		streams, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return execution.Submission{}, ctxErr
			}
			return execution.Submission{}, fmt.Errorf("read stream %q: %w", c.stream, err)
		}

		for _, stream := range streams {
			if len(stream.Messages) > 0 {
				return c.decode(ctx, stream.Messages[0])
			}
		}
	}
}

func (c *Consumer) decode(ctx context.Context, msg goredis.XMessage) (execution.Submission, error) {
	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		c.logger.Warn().Err(err).Str("entry", msg.ID).Msg("failed to acknowledge stream entry")
	}

	raw, ok := msg.Values[submissionField].(string)
	if !ok {
		return execution.Submission{}, codec.Malformed(msg.ID, fmt.Errorf("stream entry %s missing %q field", msg.ID, submissionField))
	}
	return codec.DecodeSubmission([]byte(raw), msg.ID)
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	c.groupMu.Lock()
	defer c.groupMu.Unlock()

	if c.groupReady {
		return nil
	}

	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %q: %w", c.group, err)
	}
	c.groupReady = true
	return nil
}

// Close releases the underlying client.
func (c *Consumer) Close() error {
	return c.client.Close()
}
