package docker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"judgebox/internal/domain/execution"
)

// probeCache remembers the last liveness result for ttl. Failures are cached
// as well, so a host without a daemon pays the probe timeout once per ttl
// rather than once per test case.
type probeCache struct {
	ping    func(ctx context.Context) error
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	checked   bool
	checkedAt time.Time
	err       error
}

func newProbeCache(ping func(ctx context.Context) error, timeout, ttl time.Duration) *probeCache {
	return &probeCache{
		ping:    ping,
		timeout: timeout,
		ttl:     ttl,
		now:     time.Now,
	}
}

// check returns nil when the daemon answered within the timeout, otherwise an
// error matching execution.ErrEnvironmentUnavailable.
func (p *probeCache) check(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.checked && p.now().Sub(p.checkedAt) < p.ttl {
		return p.err
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.ping(probeCtx)
	if err != nil {
		err = execution.Unavailable(fmt.Errorf("ping docker daemon: %w", err))
		// The caller giving up says nothing about the daemon.
		if ctx.Err() != nil {
			return err
		}
	}

	p.checked = true
	p.checkedAt = p.now()
	p.err = err
	return err
}

// invalidate forces the next check to contact the daemon.
func (p *probeCache) invalidate() {
	p.mu.Lock()
	p.checked = false
	p.err = nil
	p.mu.Unlock()
}
