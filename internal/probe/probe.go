// Package probe verifies that fleet nodes can be resolved and logged
// into before any playbook step is dispatched.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sparkfleet/sparkctl/internal/fleet"
)

// Sentinel errors for the two ways a node can be undialable.
var (
	ErrNameResolution = errors.New("name resolution failed")
	ErrUnreachable    = errors.New("host unreachable")
)

// DefaultTimeout bounds a single connectivity probe.
const DefaultTimeout = 15 * time.Second

// Resolve turns a node name into a dialable address. Literal IPs pass
// through untouched. Names resolve via the system resolver; bare names
// that fail are retried with the ".local" suffix Spark nodes advertise
// over mDNS. Resolution failure with no literal fallback is
// ErrNameResolution.
func Resolve(ctx context.Context, name string) (string, error) {
	if ip := net.ParseIP(name); ip != nil {
		return name, nil
	}

	resolver := &net.Resolver{}
	addrs, err := resolver.LookupHost(ctx, name)
	if err == nil && len(addrs) > 0 {
		return addrs[0], nil
	}

	if !strings.Contains(name, ".") {
		local := name + ".local"
		if addrs, lerr := resolver.LookupHost(ctx, local); lerr == nil && len(addrs) > 0 {
			return addrs[0], nil
		}
	}

	return "", fmt.Errorf("%w: %s: %v", ErrNameResolution, name, err)
}

// Probe runs a no-op command on the host, bounded by timeout. A zero
// exit confirms login works; anything else is ErrUnreachable wrapping
// the cause. Probe never blocks past the timeout.
func Probe(ctx context.Context, runner fleet.Runner, host string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := runner.Run(probeCtx, host, "true")
	if r.Err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, host, r.Err)
	}
	if r.ExitCode != 0 {
		return fmt.Errorf("%w: %s: probe exited %d", ErrUnreachable, host, r.ExitCode)
	}
	return nil
}

// HostError pairs a host with its probe failure.
type HostError struct {
	Host string
	Err  error
}

// VerifyFleet probes every host in order, manager first. All hosts are
// attempted even after a failure so one dead node does not hide
// another; the full failure list is returned.
func VerifyFleet(ctx context.Context, runner fleet.Runner, hosts []string, timeout time.Duration) []HostError {
	var failures []HostError
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			failures = append(failures, HostError{Host: host, Err: err})
			continue
		}
		if err := Probe(ctx, runner, host, timeout); err != nil {
			failures = append(failures, HostError{Host: host, Err: err})
		}
	}
	return failures
}

// Prerequisites checks that each named tool is on PATH on every host.
// The first missing tool is fatal: playbooks must not start against
// nodes with missing tooling.
func Prerequisites(ctx context.Context, runner fleet.Runner, hosts, tools []string, timeout time.Duration) error {
	for _, host := range hosts {
		for _, tool := range tools {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			r := runner.Run(checkCtx, host, "command -v "+tool+" >/dev/null 2>&1")
			cancel()
			if r.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrUnreachable, host, r.Err)
			}
			if r.ExitCode != 0 {
				return &MissingPrerequisiteError{Host: host, Tool: tool}
			}
		}
	}
	return nil
}

// MissingPrerequisiteError reports a required tool absent from a host.
type MissingPrerequisiteError struct {
	Host string
	Tool string
}

func (e *MissingPrerequisiteError) Error() string {
	return fmt.Sprintf("%s: required tool %q not found on PATH", e.Host, e.Tool)
}
