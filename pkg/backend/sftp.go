package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/shardvault/shardvault/pkg/errdefs"
)

// SFTPClient implements Client over SFTP. Every operation opens a fresh
// SSH connection and tears it down before returning, so a half-dead
// session can never poison later operations.
type SFTPClient struct {
	endpoint  Endpoint
	sshConfig *ssh.ClientConfig
}

// NewSFTPClient builds a client for one endpoint. The SSH configuration
// is resolved once; connections are established per operation.
func NewSFTPClient(endpoint Endpoint) (*SFTPClient, error) {
	endpoint.ApplyDefaults()

	var auth []ssh.AuthMethod
	if endpoint.PrivateKeyPath != "" {
		keyData, err := os.ReadFile(endpoint.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key for %s: %w", endpoint.Name, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key for %s: %w", endpoint.Name, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if endpoint.Password != "" {
		auth = append(auth, ssh.Password(endpoint.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("endpoint %s has neither password nor private key", endpoint.Name)
	}

	return &SFTPClient{
		endpoint: endpoint,
		sshConfig: &ssh.ClientConfig{
			User: endpoint.User,
			Auth: auth,
			// Backends are provisioned dynamically; host keys are not
			// pinned. The payload is encrypted before it reaches this layer.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         endpoint.DialTimeout,
		},
	}, nil
}

// Name returns the endpoint identifier.
func (c *SFTPClient) Name() string {
	return c.endpoint.Name
}

// Path returns the chunk path under the endpoint's storage root.
func (c *SFTPClient) Path(fileID string, index int) string {
	return ChunkPath(c.endpoint.StorageRoot, fileID, index)
}

// session is one connected SFTP session with its SSH transport.
type session struct {
	conn *ssh.Client
	sftp *sftp.Client
}

func (s *session) close() {
	s.sftp.Close()
	s.conn.Close()
}

// connect dials the endpoint, honoring context cancellation during the
// TCP dial. The SSH handshake itself is bounded by the config timeout.
func (c *SFTPClient) connect(ctx context.Context) (*session, error) {
	dialer := net.Dialer{Timeout: c.endpoint.DialTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", c.endpoint.Addr())
	if err != nil {
		return nil, transportErr(c.endpoint.Name, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, c.endpoint.Addr(), c.sshConfig)
	if err != nil {
		tcpConn.Close()
		return nil, transportErr(c.endpoint.Name, err)
	}
	conn := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, transportErr(c.endpoint.Name, err)
	}
	return &session{conn: conn, sftp: sftpClient}, nil
}

// Put writes data to remotePath, creating parent directories first.
func (c *SFTPClient) Put(ctx context.Context, remotePath string, data []byte) error {
	sess, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.sftp.MkdirAll(path.Dir(remotePath)); err != nil {
		return transportErr(c.endpoint.Name, err)
	}

	f, err := sess.sftp.Create(remotePath)
	if err != nil {
		return transportErr(c.endpoint.Name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return transportErr(c.endpoint.Name, err)
	}
	if err := f.Close(); err != nil {
		return transportErr(c.endpoint.Name, err)
	}
	return nil
}

// Get reads the full contents of remotePath.
func (c *SFTPClient) Get(ctx context.Context, remotePath string) ([]byte, error) {
	sess, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	f, err := sess.sftp.Open(remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("backend %s: %s: %w", c.endpoint.Name, remotePath, errdefs.ErrNotFound)
		}
		return nil, transportErr(c.endpoint.Name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, transportErr(c.endpoint.Name, err)
	}
	return data, nil
}

// Delete removes remotePath and, when it is the last entry, the per-file
// directory. A missing file is treated as already deleted.
func (c *SFTPClient) Delete(ctx context.Context, remotePath string) error {
	sess, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.sftp.Remove(remotePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return transportErr(c.endpoint.Name, err)
	}

	// Best effort, fails harmlessly while siblings remain.
	sess.sftp.RemoveDirectory(path.Dir(remotePath))
	return nil
}

// Close is a no-op; connections are per operation.
func (c *SFTPClient) Close() error {
	return nil
}

func transportErr(backend string, err error) error {
	return fmt.Errorf("backend %s: %v: %w", backend, err, errdefs.ErrTransport)
}
