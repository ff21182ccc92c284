package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ConnectError wraps an SSH connection error with a user-facing hint.
type ConnectError struct {
	Host string
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %v\n  hint: %s", e.Host, e.Err, e.Hint)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// WrapConnectError attaches an actionable hint to common connection
// failures. Errors that match no known pattern are returned as-is.
func WrapConnectError(host string, err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	wrap := func(hint string) error {
		return &ConnectError{Host: host, Err: err, Hint: hint}
	}

	if strings.Contains(msg, "permission denied") && strings.Contains(msg, "key") {
		return wrap("check SSH key permissions (chmod 600)")
	}

	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "handshake failed") {
		return wrap(fmt.Sprintf("verify your SSH key or agent. Try: ssh -v %s", host))
	}

	if strings.Contains(msg, "connection refused") {
		return wrap("verify the SSH daemon is running on the node and that it finished booting")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "lookup") {
		return wrap("verify the node name; Spark nodes usually advertise as <name>.local")
	}

	if strings.Contains(msg, "no known_hosts") || strings.Contains(msg, "knownhosts") {
		return wrap(fmt.Sprintf("use --insecure or connect once with: ssh %s", host))
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return wrap(fmt.Sprintf("the node was probably reimaged; remove the old key with: ssh-keygen -R %s", host))
	}

	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) {
		return wrap(fmt.Sprintf("verify your SSH key or agent. Try: ssh -v %s", host))
	}

	return err
}
