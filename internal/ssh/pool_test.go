package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/sparkfleet/sparkctl/internal/sshtest"
)

func testPool(t *testing.T, addr, keyPath string) *Pool {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")

	host, port := sshtest.ParseAddr(t, addr)
	base := ClientConfig{
		User:               "testuser",
		Port:               port,
		IdentityFiles:      []string{keyPath},
		AcceptUnknownHosts: true,
	}
	pool := NewPool(base, nil)
	pool.SetAddr("spark-0", host)
	return pool
}

func TestPoolRunReusesConnection(t *testing.T) {
	pubKey, keyPath := sshtest.GenerateKey(t)
	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithCmdHandler(func(cmd string) (string, string, int) {
		return cmd + "\n", "", 0
	}))
	defer cleanup()

	pool := testPool(t, addr, keyPath)
	defer pool.Close()

	if pool.IsConnected("spark-0") {
		t.Error("pool reports connected before first Run")
	}

	r := pool.Run(context.Background(), "spark-0", "first")
	if !r.Succeeded() {
		t.Fatalf("first run failed: exit=%d err=%v", r.ExitCode, r.Err)
	}
	if !pool.IsConnected("spark-0") {
		t.Error("pool did not cache the connection")
	}

	r = pool.Run(context.Background(), "spark-0", "second")
	if !r.Succeeded() {
		t.Fatalf("second run failed: exit=%d err=%v", r.ExitCode, r.Err)
	}
	if string(r.Stdout) != "second\n" {
		t.Errorf("stdout = %q", string(r.Stdout))
	}
}

func TestPoolSetAddrOverridesDial(t *testing.T) {
	// The pool dials the resolved address, so an unresolvable fleet
	// name still works once the prober has mapped it.
	pubKey, keyPath := sshtest.GenerateKey(t)
	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey))
	defer cleanup()

	pool := testPool(t, addr, keyPath)
	defer pool.Close()

	r := pool.Run(context.Background(), "spark-0", "true")
	if !r.Succeeded() {
		t.Fatalf("run via resolved address failed: %v", r.Err)
	}
	if r.Host != "spark-0" {
		t.Errorf("result Host = %q, want the fleet name", r.Host)
	}
}

func TestPoolConnectFailure(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pool := NewPool(ClientConfig{
		User:               "testuser",
		Port:               1,
		AcceptUnknownHosts: true,
	}, nil)
	defer pool.Close()

	r := pool.Run(context.Background(), "127.0.0.1", "true")
	if r.Err == nil {
		t.Fatal("expected connect error")
	}
	if r.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for a connect failure", r.ExitCode)
	}
}

func TestPoolConcurrentGetClientSharesDial(t *testing.T) {
	pubKey, keyPath := sshtest.GenerateKey(t)
	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey))
	defer cleanup()

	pool := testPool(t, addr, keyPath)
	defer pool.Close()

	const callers = 8
	clients := make([]*Client, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := pool.GetClient(context.Background(), "spark-0")
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if clients[i] != clients[0] {
			t.Fatalf("caller %d got a different client; dial was not shared", i)
		}
	}
}

func TestPoolClose(t *testing.T) {
	pubKey, keyPath := sshtest.GenerateKey(t)
	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey))
	defer cleanup()

	pool := testPool(t, addr, keyPath)
	if r := pool.Run(context.Background(), "spark-0", "true"); !r.Succeeded() {
		t.Fatalf("run: %v", r.Err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pool.IsConnected("spark-0") {
		t.Error("pool still reports connected after Close")
	}
}

func TestIsReconnectable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"net op error", &net.OpError{Op: "read", Err: fmt.Errorf("reset")}, true},
		{"closed connection", errors.New("use of closed network connection"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"auth failure", errors.New("ssh: unable to authenticate"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isReconnectable(tc.err); got != tc.want {
				t.Errorf("isReconnectable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
