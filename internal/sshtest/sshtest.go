// Package sshtest provides an in-process SSH server so the dispatcher,
// transfer, and tunnel layers can be tested without real nodes.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// CmdHandler processes an exec request and returns stdout, stderr, and
// the exit code.
type CmdHandler func(cmd string) (stdout, stderr string, exitCode int)

// ServerConfig holds options for a test SSH server.
type ServerConfig struct {
	ClientPubKey ssh.PublicKey
	Password     string
	NoAuth       bool
	ForwardTCP   bool
	SFTPRoot     string
	CmdHandler   CmdHandler
}

// Option configures a test SSH server.
type Option func(*ServerConfig)

// WithPublicKey accepts connections authenticated with the given key.
func WithPublicKey(pub ssh.PublicKey) Option {
	return func(c *ServerConfig) { c.ClientPubKey = pub }
}

// WithPassword accepts connections authenticated with the password.
func WithPassword(pw string) Option {
	return func(c *ServerConfig) { c.Password = pw }
}

// WithNoAuth accepts any connection.
func WithNoAuth() Option {
	return func(c *ServerConfig) { c.NoAuth = true }
}

// WithCmdHandler sets the exec handler. Without one, the server echoes
// the command back on stdout with exit 0.
func WithCmdHandler(h CmdHandler) Option {
	return func(c *ServerConfig) { c.CmdHandler = h }
}

// WithForwardTCP enables direct-tcpip channels (port forwarding).
func WithForwardTCP() Option {
	return func(c *ServerConfig) { c.ForwardTCP = true }
}

// WithSFTP enables the sftp subsystem, serving files with the given
// directory as the working directory.
func WithSFTP(root string) Option {
	return func(c *ServerConfig) { c.SFTPRoot = root }
}

// Start launches the server on a loopback port. It returns the
// listener address and a cleanup function.
func Start(t *testing.T, opts ...Option) (addr string, cleanup func()) {
	t.Helper()

	cfg := &ServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	serverConf := &ssh.ServerConfig{NoClientAuth: cfg.NoAuth}
	serverConf.AddHostKey(newHostKey(t))

	if cfg.ClientPubKey != nil {
		expected := cfg.ClientPubKey.Marshal()
		serverConf.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(expected) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		}
	}
	if cfg.Password != "" {
		serverConf.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, serverConf, cfg)
		}
	}()

	return listener.Addr().String(), func() {
		listener.Close()
		<-done
	}
}

func newHostKey(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer
}

func serveConn(conn net.Conn, config *ssh.ServerConfig, cfg *ServerConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			ch, requests, err := newChan.Accept()
			if err != nil {
				continue
			}
			go serveSession(ch, requests, cfg)
		case "direct-tcpip":
			if !cfg.ForwardTCP {
				newChan.Reject(ssh.Prohibited, "tcpip forwarding not enabled")
				continue
			}
			ch, _, err := newChan.Accept()
			if err != nil {
				continue
			}
			go serveDirectTCPIP(ch, newChan.ExtraData())
		default:
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request, cfg *ServerConfig) {
	defer ch.Close()

	for req := range reqs {
		if req.Type == "subsystem" && cfg.SFTPRoot != "" {
			if name, ok := parseExecPayload(req.Payload); ok && name == "sftp" {
				req.Reply(true, nil)
				server, err := sftp.NewServer(ch, sftp.WithServerWorkingDirectory(cfg.SFTPRoot))
				if err != nil {
					return
				}
				server.Serve()
				return
			}
		}
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		cmd, ok := parseExecPayload(req.Payload)
		if !ok {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)

		stdout, stderr, exitCode := cmd, "", 0
		if cfg.CmdHandler != nil {
			stdout, stderr, exitCode = cfg.CmdHandler(cmd)
		}

		if stdout != "" {
			io.WriteString(ch, stdout)
		}
		if stderr != "" {
			io.WriteString(ch.Stderr(), stderr)
		}
		ch.SendRequest("exit-status", false, uint32be(exitCode))
		return
	}
}

// parseExecPayload extracts the command string from an exec request
// payload (uint32 length prefix + bytes).
func parseExecPayload(payload []byte) (string, bool) {
	if len(payload) < 4 {
		return "", false
	}
	n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	if len(payload) < 4+n {
		return "", false
	}
	return string(payload[4 : 4+n]), true
}

func uint32be(v int) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func serveDirectTCPIP(ch ssh.Channel, extraData []byte) {
	defer ch.Close()

	// direct-tcpip extra data: string host, uint32 port, then origin.
	if len(extraData) < 4 {
		return
	}
	hostLen := int(extraData[0])<<24 | int(extraData[1])<<16 | int(extraData[2])<<8 | int(extraData[3])
	if len(extraData) < 4+hostLen+4 {
		return
	}
	host := string(extraData[4 : 4+hostLen])
	off := 4 + hostLen
	port := int(extraData[off])<<24 | int(extraData[off+1])<<16 | int(extraData[off+2])<<8 | int(extraData[off+3])

	conn, err := net.Dial("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(ch, conn); done <- struct{}{} }()
	go func() { io.Copy(conn, ch); done <- struct{}{} }()
	<-done
}

// GenerateKey creates an ed25519 key pair, writes the private key to a
// temp file, and returns the public key plus the private key path.
func GenerateKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	pemBlock := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pemBlock, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	return signer.PublicKey(), keyPath
}

// ParseAddr splits an address into host and port.
func ParseAddr(t *testing.T, addr string) (host string, port int) {
	t.Helper()
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr %q: %v", addr, err)
	}
	fmt.Sscanf(portStr, "%d", &port)
	return h, port
}
