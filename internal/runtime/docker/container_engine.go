package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"judgebox/internal/domain/execution"
	runtimex "judgebox/internal/runtime"
)

// phase is one container lifecycle: compile or run.
type phase struct {
	name     string
	image    string
	cmd      []string
	mounts   []mount.Mount
	stdin    string
	attach   bool
	timeout  time.Duration
	memoryMB int64
}

type phaseResult struct {
	stdout    string
	stderr    string
	truncated bool
	exitCode  int64
	oomKilled bool
	timedOut  bool
	// duration spans create through removal.
	duration time.Duration
}

// runPhase creates, runs and removes one container. Expected program
// failures are reported in phaseResult; the error is non-nil only when the
// daemon could not carry out the lifecycle.
func (e *Executor) runPhase(ctx context.Context, p phase) (res phaseResult, err error) {
	start := time.Now()

	containerID, err := e.createContainer(ctx, p)
	if err != nil {
		return res, execution.Unavailable(err)
	}
	defer func() {
		e.removeContainer(containerID)
		res.duration = time.Since(start)
	}()

	if p.attach {
		attach, err := e.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
			Stream: true,
			Stdin:  true,
		})
		if err != nil {
			return res, execution.Unavailable(fmt.Errorf("attach container: %w", err))
		}
		if attach.Conn == nil {
			return res, execution.Unavailable(errors.New("attach container: no connection"))
		}

		if err := e.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			attach.Close()
			return res, execution.Unavailable(fmt.Errorf("start container: %w", err))
		}

		// Stdin is fed concurrently so a program that never reads it cannot
		// block the wait below. Closing the connection unblocks the writer.
		stdinDone := make(chan struct{})
		go func() {
			defer close(stdinDone)
			if _, err := io.Copy(attach.Conn, strings.NewReader(p.stdin)); err != nil {
				e.logger.Debug().Err(err).Str("container", containerID).Msg("stdin not fully consumed")
				return
			}
			_ = attach.CloseWrite()
		}()
		defer func() {
			attach.Close()
			<-stdinDone
		}()
	} else if err := e.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return res, execution.Unavailable(fmt.Errorf("start container: %w", err))
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	status, err := e.waitForExit(waitCtx, containerID)
	if cancel != nil {
		cancel()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && p.timeout > 0 && ctx.Err() == nil {
			return e.handleTimeLimit(containerID, p), nil
		}
		if ctx.Err() != nil {
			return res, execution.Internal("wait for container", ctx.Err())
		}
		return res, execution.Unavailable(err)
	}

	inspect, err := e.cli.ContainerInspect(detached(ctx), containerID)
	if err != nil {
		return res, execution.Unavailable(fmt.Errorf("inspect container: %w", err))
	}

	stdout, stderr, err := e.fetchLogs(detached(ctx), containerID)
	if err != nil {
		return res, execution.Unavailable(fmt.Errorf("fetch logs: %w", err))
	}

	res.stdout = stdout.String()
	res.stderr = stderr.String()
	res.truncated = stdout.Truncated()
	res.exitCode = status.StatusCode
	if inspect.ContainerJSONBase != nil && inspect.State != nil {
		res.oomKilled = inspect.State.OOMKilled
	}

	e.logger.Debug().
		Str("container", containerID).
		Str("phase", p.name).
		Int64("exit_code", res.exitCode).
		Bool("oom_killed", res.oomKilled).
		Msg("container exited")

	return res, nil
}

func (e *Executor) createContainer(ctx context.Context, p phase) (string, error) {
	pids := e.cfg.PidsLimit
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Mounts:      p.mounts,
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Tmpfs: map[string]string{
			"/tmp": "rw,nosuid,size=64m",
		},
		Resources: container.Resources{
			NanoCPUs:  e.cfg.NanoCPUs,
			PidsLimit: &pids,
		},
	}
	if p.memoryMB > 0 {
		bytes := execution.Limits{MemoryMB: p.memoryMB}.MemoryBytes()
		hostConfig.Resources.Memory = bytes
		// Equal swap disables swapping past the ceiling.
		hostConfig.Resources.MemorySwap = bytes
	}

	resp, err := e.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:           p.image,
			Cmd:             p.cmd,
			User:            e.cfg.User,
			WorkingDir:      sourceMount,
			NetworkDisabled: true,
			AttachStdout:    true,
			AttachStderr:    true,
			AttachStdin:     p.attach,
			OpenStdin:       p.attach,
			StdinOnce:       p.attach,
		},
		hostConfig,
		nil,
		nil,
		"",
	)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	e.logger.Debug().Str("container", resp.ID).Str("image", p.image).Str("phase", p.name).Msg("container created")
	return resp.ID, nil
}

// handleTimeLimit kills the container without grace and collects whatever it
// printed before the deadline. Teardown is bounded by defaultStopGrace.
func (e *Executor) handleTimeLimit(containerID string, p phase) phaseResult {
	stopCtx, cancelStop := context.WithTimeout(context.Background(), defaultStopGrace)
	defer cancelStop()

	noGrace := 0
	if err := e.cli.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &noGrace}); err != nil && !client.IsErrNotFound(err) {
		e.logger.Warn().Err(err).Str("container", containerID).Msg("failed to stop container after time limit")
	}

	status, err := e.waitForExit(stopCtx, containerID)
	exitCode := int64(-1)
	if err == nil {
		exitCode = status.StatusCode
	}

	res := phaseResult{exitCode: exitCode, timedOut: true}
	stdout, stderr, err := e.fetchLogs(stopCtx, containerID)
	if err != nil {
		e.logger.Debug().Err(err).Str("container", containerID).Msg("no logs after time limit")
	} else {
		res.stdout = stdout.String()
		res.stderr = stderr.String()
		res.truncated = stdout.Truncated()
	}

	e.logger.Debug().Str("container", containerID).Str("phase", p.name).Dur("timeout", p.timeout).Msg("container killed at time limit")
	return res
}

func (e *Executor) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for container: %w", ctx.Err())
	}
}

func (e *Executor) fetchLogs(ctx context.Context, containerID string) (stdout, stderr *runtimex.CappedBuffer, err error) {
	logs, err := e.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, err
	}
	defer logs.Close()

	stdout = runtimex.NewCappedBuffer(e.cfg.OutputLimit)
	stderr = runtimex.NewCappedBuffer(e.cfg.OutputLimit)
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return nil, nil, err
	}
	return stdout, stderr, nil
}

// removeContainer is best effort; a leaked container is logged, never
// reported as an execution failure.
func (e *Executor) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultStopGrace)
	defer cancel()

	err := e.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		e.logger.Warn().Err(err).Str("container", containerID).Msg("failed to remove container")
		return
	}
	e.logger.Debug().Str("container", containerID).Msg("container removed")
}

// detached keeps post-exit bookkeeping alive when the caller's context has
// already ended.
func detached(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.Background()
	}
	return ctx
}
