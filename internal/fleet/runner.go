// Package fleet sequences playbook steps across a fleet of hosts.
//
// Execution is strictly sequential and host-major within a step: a step
// is dispatched to every target host (manager first, peers in configured
// order) before the runner advances, because later steps assume earlier
// steps' side effects on all nodes.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sparkfleet/sparkctl/internal/playbook"
)

// Runner is the interface the SSH layer implements to execute a command
// on a single host.
type Runner interface {
	Run(ctx context.Context, host string, command string) *HostResult
}

// ErrIncompleteFleet is returned when a run is attempted without a
// manager host.
var ErrIncompleteFleet = errors.New("fleet has no manager host")

// Hooks receives progress notifications during a run. Any field may be
// nil. The runner itself never prints.
type Hooks struct {
	StepStart func(step playbook.Step, hosts []string)
	Result    func(step playbook.Step, r *HostResult)
	StepEnd   func(step playbook.Step, hardFailed bool)
}

// StepRunner drives a playbook against a fixed fleet.
type StepRunner struct {
	runner  Runner
	manager string
	peers   []string
	hooks   Hooks
}

// Option configures a StepRunner.
type Option func(*StepRunner)

// WithHooks attaches progress hooks.
func WithHooks(h Hooks) Option {
	return func(sr *StepRunner) { sr.hooks = h }
}

// New creates a StepRunner for a fleet of one manager plus zero or more
// peers.
func New(runner Runner, manager string, peers []string, opts ...Option) (*StepRunner, error) {
	if manager == "" {
		return nil, ErrIncompleteFleet
	}
	sr := &StepRunner{runner: runner, manager: manager, peers: peers}
	for _, opt := range opts {
		opt(sr)
	}
	return sr, nil
}

// Hosts returns the full fleet in dispatch order: manager first.
func (sr *StepRunner) Hosts() []string {
	return append([]string{sr.manager}, sr.peers...)
}

// targets resolves a step's target selector to concrete hosts.
func (sr *StepRunner) targets(t playbook.Target) []string {
	switch t {
	case playbook.TargetManager:
		return []string{sr.manager}
	case playbook.TargetPeers:
		return sr.peers
	default:
		return sr.Hosts()
	}
}

// Run executes the playbook's steps in declared order and returns the
// Session. A non-best-effort failure on any host aborts the run; no
// later step is dispatched anywhere. Best-effort failures are recorded
// and the run proceeds.
//
// Context cancellation is honored between dispatches and, via per-step
// deadlines, inside them.
func (sr *StepRunner) Run(ctx context.Context, pb playbook.Playbook) (*Session, error) {
	if err := pb.Validate(); err != nil {
		return nil, err
	}

	session := &Session{Playbook: pb.Name}

	for _, step := range pb.Steps {
		hosts := sr.targets(step.Target)
		if sr.hooks.StepStart != nil {
			sr.hooks.StepStart(step, hosts)
		}

		hardFailed := false
		for _, host := range hosts {
			if err := ctx.Err(); err != nil {
				session.Outcome = Aborted
				session.FailedStep = step.Name
				return session, fmt.Errorf("run cancelled during step %q: %w", step.Name, err)
			}

			r := sr.dispatch(ctx, step, host)
			session.Results = append(session.Results, r)
			if sr.hooks.Result != nil {
				sr.hooks.Result(step, r)
			}

			if !r.Succeeded() {
				if step.BestEffort {
					session.SoftFails++
				} else {
					hardFailed = true
				}
			}
		}

		if sr.hooks.StepEnd != nil {
			sr.hooks.StepEnd(step, hardFailed)
		}
		// A cancellation that landed during a dispatch surfaces on the
		// result like a failure; report it as the cancellation it is so
		// callers can tell an interrupt from a hard step failure.
		if err := ctx.Err(); err != nil {
			session.Outcome = Aborted
			session.FailedStep = step.Name
			return session, fmt.Errorf("run cancelled during step %q: %w", step.Name, err)
		}
		if hardFailed {
			session.Outcome = Aborted
			session.FailedStep = step.Name
			return session, nil
		}
	}

	session.Outcome = Completed
	return session, nil
}

// Rollback executes the playbook with every step forced best-effort.
// It always drives the run to Completed: teardown must attempt every
// cleanup action even when earlier ones fail.
func (sr *StepRunner) Rollback(ctx context.Context, pb playbook.Playbook) (*Session, error) {
	return sr.Run(ctx, pb.BestEffort())
}

// dispatch runs one step on one host, applying the step's deadline and
// classifying an exceeded deadline as a timeout on the result.
func (sr *StepRunner) dispatch(ctx context.Context, step playbook.Step, host string) *HostResult {
	stepCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	start := time.Now()
	r := sr.runner.Run(stepCtx, host, step.Command)
	r.Duration = time.Since(start)
	r.Host = host
	r.Step = step.Name

	if stepCtx.Err() == context.DeadlineExceeded && r.Err == nil {
		r.Err = context.DeadlineExceeded
	}
	return r
}
