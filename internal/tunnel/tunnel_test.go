package tunnel_test

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"

	sparkssh "github.com/sparkfleet/sparkctl/internal/ssh"
	"github.com/sparkfleet/sparkctl/internal/sshtest"
	"github.com/sparkfleet/sparkctl/internal/tunnel"
)

// startEchoServer stands in for the remote model endpoint: it echoes
// back anything it receives.
func startEchoServer(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen echo server: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func TestTunnelEndToEnd(t *testing.T) {
	echoHost, echoPort := startEchoServer(t)

	pubKey, keyPath := sshtest.GenerateKey(t)
	sshAddr, cleanup := sshtest.Start(t,
		sshtest.WithPublicKey(pubKey),
		sshtest.WithForwardTCP(),
	)
	defer cleanup()

	t.Setenv("SSH_AUTH_SOCK", "")
	sshHost, sshPort := sshtest.ParseAddr(t, sshAddr)
	client, err := sparkssh.Dial(context.Background(), sshHost, sparkssh.ClientConfig{
		User:               "testuser",
		Port:               sshPort,
		IdentityFiles:      []string{keyPath},
		AcceptUnknownHosts: true,
	})
	if err != nil {
		t.Fatalf("dial SSH: %v", err)
	}
	defer client.Close()

	tun, err := tunnel.Open(client.SSHClient(), sshHost, 0, echoHost, echoPort)
	if err != nil {
		t.Fatalf("Open tunnel: %v", err)
	}
	defer tun.Close()

	if tun.Host != sshHost {
		t.Errorf("tunnel Host = %q, want %q", tun.Host, sshHost)
	}
	if tun.LocalAddr == "" {
		t.Fatal("tunnel LocalAddr is empty")
	}
	wantRemote := net.JoinHostPort(echoHost, strconv.Itoa(echoPort))
	if tun.RemoteAddr != wantRemote {
		t.Errorf("tunnel RemoteAddr = %q, want %q", tun.RemoteAddr, wantRemote)
	}

	conn, err := net.Dial("tcp", tun.LocalAddr)
	if err != nil {
		t.Fatalf("dial tunnel: %v", err)
	}
	defer conn.Close()

	msg := []byte("hello through the tunnel")
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != string(msg) {
		t.Errorf("echoed = %q, want %q", buf, msg)
	}
}

func TestTunnelCloseStopsListener(t *testing.T) {
	echoHost, echoPort := startEchoServer(t)

	pubKey, keyPath := sshtest.GenerateKey(t)
	sshAddr, cleanup := sshtest.Start(t,
		sshtest.WithPublicKey(pubKey),
		sshtest.WithForwardTCP(),
	)
	defer cleanup()

	t.Setenv("SSH_AUTH_SOCK", "")
	sshHost, sshPort := sshtest.ParseAddr(t, sshAddr)
	client, err := sparkssh.Dial(context.Background(), sshHost, sparkssh.ClientConfig{
		User:               "testuser",
		Port:               sshPort,
		IdentityFiles:      []string{keyPath},
		AcceptUnknownHosts: true,
	})
	if err != nil {
		t.Fatalf("dial SSH: %v", err)
	}
	defer client.Close()

	tun, err := tunnel.Open(client.SSHClient(), sshHost, 0, echoHost, echoPort)
	if err != nil {
		t.Fatalf("Open tunnel: %v", err)
	}

	if err := tun.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := tun.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, err := net.Dial("tcp", tun.LocalAddr); err == nil {
		t.Error("listener still accepting after Close")
	}
}
