package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"judgebox/internal/app/executor"
	"judgebox/internal/app/producer"
	"judgebox/internal/domain/execution"
	"judgebox/internal/infra/codec"
	"judgebox/internal/infra/httpapi"
	kafkainfra "judgebox/internal/infra/kafka"
	redisinfra "judgebox/internal/infra/redis"
	"judgebox/internal/ports"
	runtimex "judgebox/internal/runtime"
	"judgebox/internal/runtime/docker"
	"judgebox/internal/runtime/local"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envErr := godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn().Err(envErr).Msg("failed to load .env file")
	}

	cfg := loadAppConfig()
	if path := os.Getenv("JUDGEBOX_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("failed to read config file")
		}
		if cfg, err = applyConfigFile(cfg, data); err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("invalid config file")
		}
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, &logger); err != nil {
		logger.Fatal().Err(err).Msg("judgebox stopped")
	}
}

func run(ctx context.Context, cfg appConfig, logger *zerolog.Logger) error {
	service, err := newService(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := service.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close runtime")
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	if err := service.ContainerStatus(probeCtx); err != nil {
		logger.Warn().Err(err).Msg("container isolation unavailable; submissions will run as unsandboxed host processes")
	}
	cancel()

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 2)
	running := 0

	var server *httpapi.Server
	if cfg.httpEnabled() {
		server = httpapi.NewServer(service, httpapi.Config{
			Addr:        cfg.HTTPAddr,
			CORSOrigins: cfg.CORSOrigins,
			Limits:      cfg.limits(),
			Logger:      logger,
		})
		running++
		go func() { errCh <- server.Start(ctx) }()
	}

	if cfg.Transport != transportNone {
		running++
		go func() { errCh <- consume(ctx, cfg, service, logger) }()
	}

	if running == 0 {
		return fmt.Errorf("nothing to do: HTTP is disabled and JUDGEBOX_TRANSPORT is %q", cfg.Transport)
	}

	// A drained transport keeps the process alive only while HTTP serves.
	var runErr error
	for running > 0 && ctx.Err() == nil {
		select {
		case err := <-errCh:
			running--
			if err != nil {
				runErr = err
				cancelRun()
			} else if server == nil {
				cancelRun()
			}
		case <-ctx.Done():
		}
	}
	cancelRun()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}

	for ; running > 0; running-- {
		if err := <-errCh; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func newService(cfg appConfig, logger *zerolog.Logger) (*executor.Service, error) {
	registry, err := runtimex.NewRegistry(cfg.profiles()...)
	if err != nil {
		return nil, fmt.Errorf("build language registry: %w", err)
	}

	var primary runtimex.Executor
	if cfg.DisableContainers {
		logger.Warn().Msg("container isolation disabled by configuration")
	} else {
		containers, err := docker.New(docker.Config{
			ProbeTimeout:   cfg.ProbeTimeout,
			ProbeTTL:       cfg.ProbeTTL,
			CompileTimeout: cfg.CompileTimeout,
			Logger:         logger,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize docker client")
		} else {
			primary = containers
		}
	}

	orchestrator, err := runtimex.NewOrchestrator(runtimex.OrchestratorConfig{
		Registry:     registry,
		Materializer: runtimex.NewMaterializer(cfg.Workdir, logger),
		Primary:      primary,
		Fallback:     local.New(local.Config{CompileTimeout: cfg.CompileTimeout, Logger: logger}),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return executor.NewService(orchestrator, executor.Config{
		Defaults:    cfg.DefaultLimits,
		Maxima:      cfg.MaxLimits,
		IntakeRate:  rate.Limit(cfg.IntakeRate),
		IntakeBurst: cfg.MaxParallel,
		Logger:      logger,
	}), nil
}

// consume drives the configured transport until it is drained or ctx ends.
func consume(ctx context.Context, cfg appConfig, service *executor.Service, logger *zerolog.Logger) error {
	source, sink, err := openTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closer, ok := source.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				logger.Warn().Err(cerr).Msg("failed to close submission source")
			}
		}
		if cerr := sink.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close evaluation sink")
		}
	}()

	logger.Info().
		Str("transport", cfg.Transport).
		Int("max_parallel", cfg.MaxParallel).
		Int("max_submissions", cfg.MaxSubmissions).
		Msg("consuming submissions")

	err = service.ExecuteFromProducer(ctx, source, cfg.MaxSubmissions, cfg.MaxParallel, func(report execution.Report) {
		logReport(logger, report)
		if perr := sink.PublishReport(ctx, report); perr != nil {
			logger.Error().Err(perr).Str("submission", report.Submission.ID).Msg("failed to publish evaluation")
		}
	})
	if err != nil {
		return fmt.Errorf("consume submissions: %w", err)
	}
	logger.Info().Str("transport", cfg.Transport).Msg("submission source drained")
	return nil
}

func openTransport(cfg appConfig, logger *zerolog.Logger) (ports.SubmissionProducer, ports.EvaluationPublisher, error) {
	switch cfg.Transport {
	case transportKafka:
		consumer, err := kafkainfra.NewConsumer(kafkainfra.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize kafka consumer: %w", err)
		}
		publisher, err := kafkainfra.NewPublisher(kafkainfra.PublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaResults,
		})
		if err != nil {
			_ = consumer.Close()
			return nil, nil, fmt.Errorf("initialize kafka publisher: %w", err)
		}
		return consumer, publisher, nil

	case transportRedis:
		consumer, err := redisinfra.NewConsumer(redisinfra.Config{
			Addr:   cfg.RedisAddr,
			Stream: cfg.RedisStream,
			Group:  cfg.RedisGroup,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize redis consumer: %w", err)
		}
		publisher, err := redisinfra.NewPublisher(redisinfra.PublisherConfig{
			Addr:   cfg.RedisAddr,
			Stream: cfg.RedisResults,
		})
		if err != nil {
			_ = consumer.Close()
			return nil, nil, fmt.Errorf("initialize redis publisher: %w", err)
		}
		return consumer, publisher, nil

	case transportFile:
		if cfg.BatchFile == "" {
			return nil, nil, fmt.Errorf("JUDGEBOX_BATCH_FILE is required for the file transport")
		}
		batch, err := producer.LoadFile(cfg.BatchFile)
		if err != nil {
			return nil, nil, err
		}
		return batch, newStdoutPublisher(os.Stdout), nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func logReport(logger *zerolog.Logger, report execution.Report) {
	if report.Err != nil {
		logger.Warn().Err(report.Err).Str("submission", report.Submission.ID).Msg("submission rejected")
		return
	}
	summary := report.Evaluation.Summary
	logger.Info().
		Str("submission", report.Submission.ID).
		Str("language", string(report.Submission.Language)).
		Int("passed", summary.Passed).
		Int("total", summary.Total).
		Float64("avg_ms", codec.Milliseconds(summary.AvgDuration)).
		Bool("degraded", report.Evaluation.Degraded).
		Msg("submission evaluated")
}
