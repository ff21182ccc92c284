package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/sparkfleet/sparkctl/internal/fleet"
)

// dialResult holds the outcome of a Dial attempt, shared between
// goroutines waiting on the same host connection.
type dialResult struct {
	client *Client
	err    error
}

// Pool manages persistent SSH connections to the fleet. It implements
// fleet.Runner, reusing cached connections across playbook steps and
// redialing once when a cached connection has gone stale.
type Pool struct {
	mu        sync.Mutex
	clients   map[string]*Client
	inflight  map[string]chan dialResult // per-host dial coordination
	baseConf  ClientConfig
	hostConfs map[string]ClientConfig
}

// NewPool creates a connection pool with the given base config and
// per-host overrides (e.g. resolved addresses from the prober).
func NewPool(baseConf ClientConfig, hostConfs map[string]ClientConfig) *Pool {
	return &Pool{
		clients:   make(map[string]*Client),
		inflight:  make(map[string]chan dialResult),
		baseConf:  baseConf,
		hostConfs: hostConfs,
	}
}

// SetAddr records a resolved dial address for a host. Subsequent dials
// to that host use the address instead of the name.
func (p *Pool) SetAddr(host, addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conf := p.confFor(host)
	conf.Addr = addr
	if p.hostConfs == nil {
		p.hostConfs = make(map[string]ClientConfig)
	}
	p.hostConfs[host] = conf
}

// confFor returns the effective config for a host. Callers must hold mu.
func (p *Pool) confFor(host string) ClientConfig {
	if hc, ok := p.hostConfs[host]; ok {
		return hc
	}
	return p.baseConf
}

// Run implements fleet.Runner. It reuses a cached connection when one
// exists, dialing otherwise. When a command fails with what looks like
// a broken connection, the cached client is evicted and the command is
// retried once on a fresh dial.
func (p *Pool) Run(ctx context.Context, host string, command string) *fleet.HostResult {
	result := &fleet.HostResult{Host: host}

	stdout, stderr, exitCode, err := p.exec(ctx, host, command)
	if err != nil && isReconnectable(err) {
		p.evict(host)
		stdout, stderr, exitCode, err = p.exec(ctx, host, command)
	}

	result.Stdout = stdout
	result.Stderr = stderr
	result.ExitCode = exitCode
	result.Err = err
	return result
}

func (p *Pool) exec(ctx context.Context, host string, command string) ([]byte, []byte, int, error) {
	client, err := p.GetClient(ctx, host)
	if err != nil {
		return nil, nil, -1, WrapConnectError(host, fmt.Errorf("connect: %w", err))
	}
	return client.RunCommand(ctx, command)
}

// GetClient returns a pooled connection to the host, dialing if needed.
// Pooled clients must not be closed by the caller; Close tears down the
// whole pool. Concurrent callers for the same host share a single dial.
func (p *Pool) GetClient(ctx context.Context, host string) (*Client, error) {
	p.mu.Lock()

	// Fast path: already connected.
	if client, ok := p.clients[host]; ok {
		p.mu.Unlock()
		return client, nil
	}

	// Another caller may already be dialing this host.
	if ch, ok := p.inflight[host]; ok {
		p.mu.Unlock()
		select {
		case res := <-ch:
			// Put the result back for any other waiters.
			ch <- res
			return res.client, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ch := make(chan dialResult, 1)
	p.inflight[host] = ch
	conf := p.confFor(host)
	p.mu.Unlock()

	client, err := Dial(ctx, host, conf)

	p.mu.Lock()
	delete(p.inflight, host)
	if err == nil {
		p.clients[host] = client
	}
	p.mu.Unlock()

	ch <- dialResult{client: client, err: err}

	return client, err
}

func (p *Pool) evict(host string) {
	p.mu.Lock()
	client, ok := p.clients[host]
	if ok {
		delete(p.clients, host)
	}
	p.mu.Unlock()

	if ok {
		client.Close()
	}
}

// IsConnected reports whether a cached connection exists for the host.
func (p *Pool) IsConnected(host string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.clients[host]
	return ok
}

// Close closes all cached connections and resets the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	var firstErr error
	for _, client := range clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// isReconnectable reports whether the error suggests a stale or broken
// connection worth one retry on a fresh dial. Permanent failures (auth,
// cancellation) return false.
func isReconnectable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}
