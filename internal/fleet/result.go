package fleet

import (
	"context"
	"errors"
	"time"
)

// HostResult holds the outcome of dispatching one step to one host.
type HostResult struct {
	Host     string
	Step     string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
	Err      error // connection/timeout errors; nil when the command ran
}

// Succeeded reports whether the command ran and exited zero.
func (r *HostResult) Succeeded() bool {
	return r.Err == nil && r.ExitCode == 0
}

// TimedOut reports whether the result was classified as a timeout.
func (r *HostResult) TimedOut() bool {
	return errors.Is(r.Err, context.DeadlineExceeded)
}
