// Package transfer distributes files to fleet nodes over SFTP and
// pulls remote files back for diagnostics. Every transfer is verified
// with a SHA-256 checksum read back over the same session.
package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// PushBytes writes content to a remote path, creating parent
// directories as needed, and verifies the remote checksum. Used to
// distribute the rendered serve env file to every node.
func PushBytes(ctx context.Context, sshClient *ssh.Client, content []byte, remotePath string, mode os.FileMode) (string, error) {
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return "", fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	// path, not filepath: remote paths are always Unix paths.
	remoteDir := path.Dir(remotePath)
	if remoteDir != "." && remoteDir != "/" {
		if err := sftpClient.MkdirAll(remoteDir); err != nil {
			return "", fmt.Errorf("create remote dir %s: %w", remoteDir, err)
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("create remote file: %w", err)
	}

	hasher := sha256.New()
	_, err = copyWithContext(ctx, io.MultiWriter(remoteFile, hasher), bytes.NewReader(content))
	// Flush before verifying.
	remoteFile.Close()
	if err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}

	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return "", fmt.Errorf("chmod remote file: %w", err)
	}

	localChecksum := hex.EncodeToString(hasher.Sum(nil))
	remoteChecksum, err := remoteSHA256(sftpClient, remotePath)
	if err != nil {
		return localChecksum, fmt.Errorf("remote checksum verification failed: %w", err)
	}
	if remoteChecksum != localChecksum {
		return localChecksum, fmt.Errorf("checksum mismatch: local=%s remote=%s", localChecksum, remoteChecksum)
	}
	return localChecksum, nil
}

// PushFile uploads a local file to a remote path on a single node.
func PushFile(ctx context.Context, sshClient *ssh.Client, localPath, remotePath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read local file: %w", err)
	}
	stat, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat local file: %w", err)
	}
	return PushBytes(ctx, sshClient, data, remotePath, stat.Mode().Perm())
}

// PullFile downloads a remote file into localDir/<host>/<basename>,
// verifying the checksum. Used to collect serve logs after a failure.
func PullFile(ctx context.Context, sshClient *ssh.Client, remotePath, localDir, host string) (string, error) {
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return "", fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("open remote file: %w", err)
	}
	defer remoteFile.Close()

	hostDir := filepath.Join(localDir, host)
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return "", fmt.Errorf("create local dir: %w", err)
	}

	localPath := filepath.Join(hostDir, filepath.Base(remotePath))
	localFile, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file: %w", err)
	}
	defer localFile.Close()

	hasher := sha256.New()
	if _, err := copyWithContext(ctx, io.MultiWriter(localFile, hasher), remoteFile); err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}

	localChecksum := hex.EncodeToString(hasher.Sum(nil))
	remoteChecksum, err := remoteSHA256(sftpClient, remotePath)
	if err != nil {
		return localChecksum, fmt.Errorf("remote checksum verification failed: %w", err)
	}
	if remoteChecksum != localChecksum {
		return localChecksum, fmt.Errorf("checksum mismatch: local=%s remote=%s", localChecksum, remoteChecksum)
	}
	return localChecksum, nil
}

// remoteSHA256viaSFTP hashes a remote file by reading it back over the
// SFTP session. No shell involved, and nothing extra needs to be
// installed on the node.
func remoteSHA256viaSFTP(sftpClient *sftp.Client, remotePath string) (string, error) {
	f, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("open remote file for checksum: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("read remote file for checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

var remoteSHA256 = remoteSHA256viaSFTP

// copyWithContext copies src to dst in chunks, checking for context
// cancellation between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
