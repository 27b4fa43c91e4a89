package docker

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultProbeTimeout    = 2 * time.Second
	defaultProbeTTL        = 30 * time.Second
	defaultCompileTimeout  = 30 * time.Second
	defaultCompileMemoryMB = 512
	defaultUser            = "65534:65534"
	defaultPidsLimit       = 64
	defaultNanoCPUs        = 1_000_000_000
	// defaultMemoryFraction is reported as memory usage because the Engine
	// API exposes no peak figure for an exited container.
	defaultMemoryFraction = 0.5
	defaultStopGrace      = 5 * time.Second

	sourceMount = "/code"
	buildMount  = "/build"
)

// Config tunes the container executor. Zero values take the defaults above.
type Config struct {
	// ProbeTimeout bounds the liveness call, independent of execution limits.
	ProbeTimeout time.Duration
	// ProbeTTL is how long a probe result, success or failure, is reused.
	ProbeTTL        time.Duration
	CompileTimeout  time.Duration
	CompileMemoryMB int64
	// User is the uid:gid programs run as inside the container.
	User           string
	PidsLimit      int64
	NanoCPUs       int64
	MemoryFraction float64
	// OutputLimit caps each captured stream in bytes.
	OutputLimit int
	Logger      *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.ProbeTTL <= 0 {
		c.ProbeTTL = defaultProbeTTL
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = defaultCompileTimeout
	}
	if c.CompileMemoryMB <= 0 {
		c.CompileMemoryMB = defaultCompileMemoryMB
	}
	if c.User == "" {
		c.User = defaultUser
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = defaultPidsLimit
	}
	if c.NanoCPUs <= 0 {
		c.NanoCPUs = defaultNanoCPUs
	}
	if c.MemoryFraction <= 0 || c.MemoryFraction > 1 {
		c.MemoryFraction = defaultMemoryFraction
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
