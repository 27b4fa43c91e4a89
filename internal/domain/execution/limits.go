package execution

import "time"

// Limits describes resource boundaries for a single execution attempt.
//
// A zero value Limits imposes no additional restrictions.
type Limits struct {
	// Timeout caps the wall-clock time of the run phase. Zero means no limit.
	Timeout time.Duration
	// MemoryMB caps memory in megabytes. Zero means no limit.
	MemoryMB int64
}

// MemoryBytes returns the memory ceiling in bytes.
func (l Limits) MemoryBytes() int64 {
	return l.MemoryMB * 1024 * 1024
}

// Normalize clamps negative values to zero.
func (l Limits) Normalize() Limits {
	if l.Timeout < 0 {
		l.Timeout = 0
	}
	if l.MemoryMB < 0 {
		l.MemoryMB = 0
	}
	return l
}

// Cap resolves caller-requested limits against operator defaults and maxima.
//
// Unset requested values take the default. A requested or default value never
// exceeds the corresponding maximum when that maximum is set.
func Cap(requested, defaults, maxima Limits) Limits {
	requested = requested.Normalize()
	effective := defaults.Normalize()
	maxima = maxima.Normalize()

	if requested.Timeout > 0 {
		effective.Timeout = requested.Timeout
	}
	if requested.MemoryMB > 0 {
		effective.MemoryMB = requested.MemoryMB
	}

	if maxima.Timeout > 0 && (effective.Timeout == 0 || effective.Timeout > maxima.Timeout) {
		effective.Timeout = maxima.Timeout
	}
	if maxima.MemoryMB > 0 && (effective.MemoryMB == 0 || effective.MemoryMB > maxima.MemoryMB) {
		effective.MemoryMB = maxima.MemoryMB
	}

	return effective
}
