package docker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"judgebox/internal/domain/execution"
	runtimex "judgebox/internal/runtime"
)

// Executor runs artifacts in ephemeral, network-disabled containers with a
// memory ceiling enforced by the container runtime.
type Executor struct {
	cli    dockerClient
	cfg    Config
	logger *zerolog.Logger
	probe  *probeCache

	imagesMu sync.Mutex
	images   map[string]struct{}
}

var (
	_ runtimex.Executor = (*Executor)(nil)
	_ runtimex.Prober   = (*Executor)(nil)
)

// New constructs an Executor talking to the daemon described by the
// environment (DOCKER_HOST and friends). It does not contact the daemon.
func New(cfg Config) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker runtime: create client: %w", err)
	}
	return newExecutorWithClient(cli, cfg), nil
}

func newExecutorWithClient(cli dockerClient, cfg Config) *Executor {
	cfg = cfg.withDefaults()
	ping := func(ctx context.Context) error {
		_, err := cli.Ping(ctx)
		return err
	}
	return &Executor{
		cli:    cli,
		cfg:    cfg,
		logger: cfg.Logger,
		probe:  newProbeCache(ping, cfg.ProbeTimeout, cfg.ProbeTTL),
		images: make(map[string]struct{}),
	}
}

func (e *Executor) Isolation() execution.Isolation {
	return execution.IsolationContainer
}

// Probe reports whether the daemon is reachable, using the cached result
// while it is fresh.
func (e *Executor) Probe(ctx context.Context) error {
	return e.probe.check(ctx)
}

// Run compiles (when the profile has a compile step) and runs the artifact.
// Compile and run each get their own container.
func (e *Executor) Run(ctx context.Context, req runtimex.Request) (execution.Outcome, error) {
	if req.Artifact == nil {
		return execution.Outcome{}, execution.Internal("docker runtime", errors.New("missing artifact"))
	}
	profile := req.Profile

	if err := e.ensureImage(ctx, profile.Image); err != nil {
		return execution.Outcome{}, e.backendFailure(execution.Unavailable(err))
	}

	paths := runtimex.Paths{
		Dir:    sourceMount,
		Source: path.Join(sourceMount, profile.SourceFile),
		Build:  buildMount,
	}

	if profile.Compiled() {
		res, err := e.runPhase(ctx, phase{
			name:     "compile",
			image:    profile.Image,
			cmd:      profile.Compile(paths),
			mounts:   artifactMounts(req.Artifact, true),
			timeout:  e.cfg.CompileTimeout,
			memoryMB: e.cfg.CompileMemoryMB,
		})
		if err != nil {
			return execution.Outcome{}, e.backendFailure(err)
		}
		if compileErr := compileError(res, e.cfg.CompileTimeout); compileErr != nil {
			return execution.Outcome{Err: compileErr}, nil
		}
	}

	limits := req.Limits
	res, err := e.runPhase(ctx, phase{
		name:     "run",
		image:    profile.Image,
		cmd:      profile.Run(paths),
		mounts:   artifactMounts(req.Artifact, false),
		stdin:    req.Stdin,
		attach:   true,
		timeout:  limits.Timeout,
		memoryMB: limits.MemoryMB,
	})
	if err != nil {
		return execution.Outcome{}, e.backendFailure(err)
	}

	if res.timedOut {
		outcome := execution.TimedOutOutcome(res.stdout, limits.Timeout)
		outcome.StdoutTruncated = res.truncated
		e.estimateMemory(&outcome, limits)
		return outcome, nil
	}

	outcome := execution.Outcome{
		Stdout:          res.stdout,
		StdoutTruncated: res.truncated,
		Duration:        res.duration,
	}
	switch {
	case res.oomKilled:
		outcome.Err = execution.MemoryLimitExceeded(limits.MemoryMB)
		outcome.MemoryMB = float64(limits.MemoryMB)
	case res.exitCode != 0:
		outcome.Err = execution.RuntimeFailure(res.stderr, res.exitCode)
		e.estimateMemory(&outcome, limits)
	default:
		e.estimateMemory(&outcome, limits)
	}
	return outcome, nil
}

// Close releases the Docker client.
func (e *Executor) Close() error {
	if err := e.cli.Close(); err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	return nil
}

// estimateMemory reports a fixed fraction of the ceiling. The Engine API has
// no peak usage for an exited container, so the figure is an approximation.
func (e *Executor) estimateMemory(outcome *execution.Outcome, limits execution.Limits) {
	if limits.MemoryMB <= 0 {
		return
	}
	outcome.MemoryMB = e.cfg.MemoryFraction * float64(limits.MemoryMB)
	outcome.MemoryEstimated = true
}

// backendFailure drops the cached probe when the daemon misbehaved mid-run so
// the next attempt re-checks it.
func (e *Executor) backendFailure(err error) error {
	if errors.Is(err, execution.ErrEnvironmentUnavailable) {
		e.probe.invalidate()
	}
	return err
}

// compileError classifies a finished compile phase; nil means the build
// succeeded.
func compileError(res phaseResult, timeout time.Duration) *execution.Error {
	switch {
	case res.timedOut:
		return execution.CompileFailure(fmt.Sprintf("compilation timed out after %s", timeout))
	case res.oomKilled:
		return execution.CompileFailure(firstNonEmpty(res.stderr, "compiler exceeded its memory limit"))
	case res.exitCode != 0:
		return execution.CompileFailure(firstNonEmpty(res.stderr, res.stdout, fmt.Sprintf("compiler exited with code %d", res.exitCode)))
	}
	return nil
}

func artifactMounts(artifact *runtimex.Artifact, writableBuild bool) []mount.Mount {
	return []mount.Mount{
		{
			Type:     mount.TypeBind,
			Source:   artifact.Paths.Dir,
			Target:   sourceMount,
			ReadOnly: true,
		},
		{
			Type:     mount.TypeBind,
			Source:   artifact.Paths.Build,
			Target:   buildMount,
			ReadOnly: !writableBuild,
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
