// Package tunnel forwards a local port to the manager node so the
// operator can reach the model endpoint without exposing it on the LAN.
package tunnel

import (
	"fmt"
	"io"
	"net"
	"sync"

	gossh "golang.org/x/crypto/ssh"
)

// Tunnel is an active local forward through an SSH connection.
type Tunnel struct {
	Host       string // SSH host the tunnel goes through
	LocalAddr  string // bound address, e.g. "127.0.0.1:8000"
	RemoteAddr string // forward target on the remote side
	listener   net.Listener
	done       chan struct{}
	closeOnce  sync.Once
}

// Close stops the tunnel and closes the listener.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.listener.Close()
	})
	return err
}

// Open binds 127.0.0.1:localPort (0 for ephemeral) and forwards each
// accepted connection to remoteHost:remotePort through the SSH client.
func Open(sshClient *gossh.Client, host string, localPort int, remoteHost string, remotePort int) (*Tunnel, error) {
	listenAddr := fmt.Sprintf("127.0.0.1:%d", localPort)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", listenAddr, err)
	}

	remoteAddr := net.JoinHostPort(remoteHost, fmt.Sprintf("%d", remotePort))
	tun := &Tunnel{
		Host:       host,
		LocalAddr:  listener.Addr().String(),
		RemoteAddr: remoteAddr,
		listener:   listener,
		done:       make(chan struct{}),
	}

	go func() {
		for {
			local, err := listener.Accept()
			if err != nil {
				// Accept fails once the listener closes.
				return
			}

			remote, err := sshClient.Dial("tcp", remoteAddr)
			if err != nil {
				local.Close()
				continue
			}

			go relay(local, remote)
		}
	}()

	return tun, nil
}

// relay copies data bidirectionally until either side closes.
func relay(local, remote net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(remote, local)
	}()
	go func() {
		defer wg.Done()
		io.Copy(local, remote)
	}()
	wg.Wait()
	local.Close()
	remote.Close()
}
