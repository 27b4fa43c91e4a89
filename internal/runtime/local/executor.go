// Package local runs artifacts as host child processes.
//
// This is the degraded isolation strategy: only the wall-clock timeout is
// enforced. There is no filesystem or network sandbox and no memory
// accounting, so every Outcome reports zero memory. Callers that rely on a
// memory bound must check Outcome.Isolation.
package local

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"judgebox/internal/domain/execution"
	runtimex "judgebox/internal/runtime"
)

const (
	defaultCompileTimeout = 30 * time.Second
	defaultKillGrace      = 2 * time.Second
)

// Config tunes the local executor. Zero values take defaults.
type Config struct {
	CompileTimeout time.Duration
	// KillGrace bounds how long Wait may block on inherited pipes after the
	// process group was killed.
	KillGrace   time.Duration
	OutputLimit int
	Logger      *zerolog.Logger
}

// Executor implements runtime.Executor with os/exec.
type Executor struct {
	cfg    Config
	logger *zerolog.Logger
}

var _ runtimex.Executor = (*Executor)(nil)

// New returns a local Executor.
func New(cfg Config) *Executor {
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = defaultCompileTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	return &Executor{cfg: cfg, logger: cfg.Logger}
}

func (e *Executor) Isolation() execution.Isolation {
	return execution.IsolationLocal
}

// Run compiles (when the profile has a compile step) and runs the artifact
// using host paths.
func (e *Executor) Run(ctx context.Context, req runtimex.Request) (execution.Outcome, error) {
	if req.Artifact == nil {
		return execution.Outcome{}, execution.Internal("local runtime", errors.New("missing artifact"))
	}
	profile := req.Profile
	paths := req.Artifact.Paths

	if profile.Compiled() {
		res, err := e.runCommand(ctx, profile.Compile(paths), "", e.cfg.CompileTimeout, paths.Dir)
		if err != nil {
			return execution.Outcome{Err: execution.Internal("start compiler", err)}, nil
		}
		switch {
		case res.timedOut:
			return execution.Outcome{Err: execution.CompileFailure(fmt.Sprintf("compilation timed out after %s", e.cfg.CompileTimeout))}, nil
		case res.exitCode != 0:
			diag := res.stderr
			if strings.TrimSpace(diag) == "" {
				diag = res.stdout
			}
			return execution.Outcome{Err: execution.CompileFailure(diag)}, nil
		}
	}

	limits := req.Limits
	res, err := e.runCommand(ctx, profile.Run(paths), req.Stdin, limits.Timeout, paths.Dir)
	if err != nil {
		return execution.Outcome{Err: execution.Internal("start program", err)}, nil
	}

	if res.timedOut {
		outcome := execution.TimedOutOutcome(res.stdout, limits.Timeout)
		outcome.StdoutTruncated = res.truncated
		return outcome, nil
	}

	outcome := execution.Outcome{
		Stdout:          res.stdout,
		StdoutTruncated: res.truncated,
		Duration:        res.duration,
	}
	if res.exitCode != 0 {
		outcome.Err = execution.RuntimeFailure(res.stderr, res.exitCode)
	}
	return outcome, nil
}

// Close is a no-op; the executor holds no resources.
func (e *Executor) Close() error {
	return nil
}

type procResult struct {
	stdout    string
	stderr    string
	truncated bool
	exitCode  int64
	timedOut  bool
	duration  time.Duration
}

// runCommand runs argv to completion or until timeout, whichever comes
// first. Anything left in the process group is killed before it returns. A
// non-nil error means the process could not be started or waited on.
func (e *Executor) runCommand(ctx context.Context, argv []string, stdin string, timeout time.Duration, dir string) (procResult, error) {
	var res procResult
	if len(argv) == 0 {
		return res, errors.New("empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)
	stdout := runtimex.NewCappedBuffer(e.cfg.OutputLimit)
	stderr := runtimex.NewCappedBuffer(e.cfg.OutputLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.cfg.KillGrace
	killProcessGroup(cmd)

	start := time.Now()
	err := cmd.Run()
	res.duration = time.Since(start)
	killGroup(cmd)
	res.stdout = stdout.String()
	res.stderr = stderr.String()
	res.truncated = stdout.Truncated()

	if timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.timedOut = true
		e.logger.Debug().Str("command", argv[0]).Dur("timeout", timeout).Msg("process killed at time limit")
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.exitCode = int64(exitErr.ExitCode())
	case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// The program exited but a descendant still held its output pipes.
		res.exitCode = int64(cmd.ProcessState.ExitCode())
		e.logger.Debug().Str("command", argv[0]).Msg("output pipes held open after exit")
	default:
		return res, err
	}

	e.logger.Debug().Str("command", argv[0]).Int64("exit_code", res.exitCode).Dur("duration", res.duration).Msg("process exited")
	return res, nil
}
