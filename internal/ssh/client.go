// Package ssh is sparkctl's remote command dispatcher: it opens SSH
// connections to fleet nodes and executes pre-rendered command strings,
// capturing output and exit status.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	sshconfig "github.com/kevinburke/ssh_config"

	"github.com/sparkfleet/sparkctl/internal/pathutil"
)

// PasswordCallback is called when agent and key-based auth both fail.
// It receives the hostname and should return the password.
type PasswordCallback func(host string) (string, error)

// ClientConfig holds options for connecting to a fleet node.
type ClientConfig struct {
	// User overrides the SSH username. If empty, resolved from
	// ~/.ssh/config or the current OS user.
	User string

	// Port overrides the SSH port. If zero, resolved from
	// ~/.ssh/config or defaults to 22.
	Port int

	// Addr overrides the address to dial. If empty, the host name is
	// dialed as-is. The prober sets this after resolving a node name
	// to a literal address.
	Addr string

	// IdentityFiles lists explicit private key paths to try. If empty,
	// resolved from ~/.ssh/config and default key locations.
	IdentityFiles []string

	// PasswordCallback is invoked when agent and key auth fail.
	PasswordCallback PasswordCallback

	// AcceptUnknownHosts skips known_hosts verification. Fresh Spark
	// nodes are rarely in known_hosts, so the CLI exposes this as
	// --insecure.
	AcceptUnknownHosts bool

	// HostKeyCallback overrides the default host key verification.
	HostKeyCallback ssh.HostKeyCallback
}

// Client wraps an SSH connection to a single fleet node.
type Client struct {
	host      string
	sshClient *ssh.Client
}

// Dial connects to the given host using the configured auth chain:
// agent, then identity files, then the password callback.
func Dial(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	user := resolveUser(host, conf)
	addr := resolveAddr(host, conf)

	hostKeyCallback, err := resolveHostKeyCallback(conf)
	if err != nil {
		return nil, fmt.Errorf("host key callback: %w", err)
	}

	sshConf := &ssh.ClientConfig{
		User:            user,
		Auth:            buildAuthMethods(host, conf),
		HostKeyCallback: hostKeyCallback,
	}

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &Client{
		host:      host,
		sshClient: ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

// RunCommand executes a command on the connected node and returns
// stdout, stderr, exit code, and any transport error. The command is
// attempted exactly once; retries are the caller's policy.
func (c *Client) RunCommand(ctx context.Context, command string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf safeBuffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Closing the session forces Run to return.
		session.Signal(ssh.SIGKILL)
		session.Close()
		return outBuf.Bytes(), errBuf.Bytes(), -1, ctx.Err()
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return outBuf.Bytes(), errBuf.Bytes(), exitErr.ExitStatus(), nil
			}
			return outBuf.Bytes(), errBuf.Bytes(), -1, err
		}
		return outBuf.Bytes(), errBuf.Bytes(), 0, nil
	}
}

// Close closes the underlying SSH connection.
func (c *Client) Close() error {
	if c.sshClient == nil {
		return nil
	}
	return c.sshClient.Close()
}

// Host returns the node name this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// SSHClient exposes the raw connection for SFTP and port-forward use.
func (c *Client) SSHClient() *ssh.Client {
	return c.sshClient
}

// resolveUser picks the SSH username: explicit config first, then
// ~/.ssh/config, then the invoking user's environment.
func resolveUser(host string, conf ClientConfig) string {
	if conf.User != "" {
		return conf.User
	}
	if user := sshconfig.Get(host, "User"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

// resolveAddr builds the dial address from the resolved address override
// (if the prober supplied one) or the host name, plus the port.
func resolveAddr(host string, conf ClientConfig) string {
	target := host
	if conf.Addr != "" {
		target = conf.Addr
	}
	port := conf.Port
	if port == 0 {
		if portStr := sshconfig.Get(host, "Port"); portStr != "" {
			fmt.Sscanf(portStr, "%d", &port)
		}
	}
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(target, fmt.Sprintf("%d", port))
}

// buildAuthMethods constructs the ordered auth chain.
func buildAuthMethods(host string, conf ClientConfig) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if agentAuth := agentAuthMethod(); agentAuth != nil {
		methods = append(methods, agentAuth)
	}

	keyFiles := conf.IdentityFiles
	if len(keyFiles) == 0 {
		keyFiles = resolveKeyFiles(host)
	}
	for _, keyFile := range keyFiles {
		if signer := loadKeySigner(keyFile); signer != nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if conf.PasswordCallback != nil {
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			return conf.PasswordCallback(host)
		}))
	}

	return methods
}

// sharedAgent holds a lazily-initialized, process-wide SSH agent
// connection. A mutex rather than sync.Once so a failed dial can be
// retried.
var sharedAgent struct {
	mu     sync.Mutex
	conn   net.Conn
	client agent.ExtendedAgent
}

// CloseAgent closes the shared SSH agent connection, if any.
func CloseAgent() {
	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()
	if sharedAgent.conn != nil {
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}
}

// agentAuthMethod returns an auth method backed by the SSH agent, or nil
// if the agent is unavailable or has no keys.
func agentAuthMethod() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}

	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()

	if sharedAgent.client != nil {
		if keys, err := sharedAgent.client.List(); err == nil {
			if len(keys) > 0 {
				return ssh.PublicKeysCallback(sharedAgent.client.Signers)
			}
			return nil
		}
		// Stale connection, close and retry.
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	sharedAgent.conn = conn
	sharedAgent.client = agent.NewClient(conn)

	keys, err := sharedAgent.client.List()
	if err != nil || len(keys) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(sharedAgent.client.Signers)
}

// resolveKeyFiles returns key file paths from ssh_config and default
// locations.
func resolveKeyFiles(host string) []string {
	var files []string

	if identity := sshconfig.Get(host, "IdentityFile"); identity != "" {
		expanded := pathutil.ExpandHome(identity)
		if _, err := os.Stat(expanded); err == nil {
			files = append(files, expanded)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return files
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		f := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	return files
}

// loadKeySigner reads a private key file and returns a signer.
func loadKeySigner(path string) ssh.Signer {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return signer
}

// resolveHostKeyCallback builds the host key callback.
func resolveHostKeyCallback(conf ClientConfig) (ssh.HostKeyCallback, error) {
	if conf.HostKeyCallback != nil {
		return conf.HostKeyCallback, nil
	}
	if conf.AcceptUnknownHosts {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}

	knownHostsPath := filepath.Join(home, ".ssh", "known_hosts")
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no known_hosts file found at %s; use --insecure to skip host key verification", knownHostsPath)
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// newClientConn performs the SSH handshake with context cancellation.
func newClientConn(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	}
}
