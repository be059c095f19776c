// Package sftp provides file transfer over the session's SSH connection.
package sftp

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Client wraps an SFTP session on an existing SSH connection. The subsystem
// is opened lazily so sessions that never transfer files pay nothing.
type Client struct {
	conn *ssh.Client

	mu     sync.Mutex
	sftp   *sftp.Client
	closed bool
}

// NewClient wraps an established SSH connection.
func NewClient(conn *ssh.Client) *Client {
	return &Client{conn: conn}
}

func (c *Client) ensure() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("sftp client is closed")
	}
	if c.sftp != nil {
		return c.sftp, nil
	}
	if c.conn == nil {
		return nil, fmt.Errorf("ssh connection is nil")
	}

	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	c.sftp = client
	return client, nil
}

// Close shuts the SFTP subsystem down; the SSH connection stays open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.sftp != nil {
		err := c.sftp.Close()
		c.sftp = nil
		return err
	}
	return nil
}

// Upload copies a local file to the remote path, creating remote parent
// directories as needed and preserving the file mode.
func (c *Client) Upload(localPath, remotePath string) error {
	client, err := c.ensure()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return fmt.Errorf("create remote directory %s: %w", dir, err)
		}
	}

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy to remote: %w", err)
	}
	if err := client.Chmod(remotePath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod remote file: %w", err)
	}
	return nil
}

// Download copies a remote file to the local path, creating local parent
// directories as needed.
func (c *Client) Download(remotePath, localPath string) error {
	client, err := c.ensure()
	if err != nil {
		return err
	}

	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote file: %w", err)
	}
	defer src.Close()

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create local directory: %w", err)
		}
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy from remote: %w", err)
	}
	return nil
}

// Stat returns file information for a remote path.
func (c *Client) Stat(remotePath string) (os.FileInfo, error) {
	client, err := c.ensure()
	if err != nil {
		return nil, err
	}
	return client.Stat(remotePath)
}

// LocalGlob expands a local doublestar pattern (** supported) to the list
// of matching regular files.
func LocalGlob(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	files := matches[:0]
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, m)
	}
	return files, nil
}
