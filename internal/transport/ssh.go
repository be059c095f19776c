package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHOptions configures an SSH transport.
type SSHOptions struct {
	Host              string
	Port              int
	User              string
	AuthMethods       []ssh.AuthMethod
	HostKeyCallback   ssh.HostKeyCallback
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration

	// Shell settings applied to each opened channel.
	Term string
	Rows int
	Cols int
	Env  map[string]string
}

// DefaultSSHOptions returns options suitable for driving a detection loop:
// a dumb terminal with a predictable prompt and colors off.
func DefaultSSHOptions() SSHOptions {
	return SSHOptions{
		Port:              22,
		ConnectTimeout:    10 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		Term:              "dumb",
		Rows:              24,
		Cols:              120,
		Env: map[string]string{
			"PROMPT_COMMAND": "",
			"NO_COLOR":       "1",
		},
	}
}

// SSH maintains one SSH connection and opens PTY shell channels on it.
type SSH struct {
	opts   SSHOptions
	config *ssh.ClientConfig

	mu            sync.Mutex
	conn          *ssh.Client
	keepaliveStop chan struct{}
}

// NewSSH validates options and returns an unconnected transport.
func NewSSH(opts SSHOptions) (*SSH, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if len(opts.AuthMethods) == 0 {
		return nil, fmt.Errorf("at least one auth method is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}

	return &SSH{
		opts: opts,
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            opts.AuthMethods,
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.ConnectTimeout,
		},
	}, nil
}

// Connect dials the host. Connecting twice is a no-op.
func (t *SSH) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(t.opts.Host, fmt.Sprintf("%d", t.opts.Port))
	conn, err := ssh.Dial("tcp", addr, t.config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	t.conn = conn

	// Copy the channel reference so the goroutine never reads the field.
	t.keepaliveStop = make(chan struct{})
	go t.keepalive(t.keepaliveStop)
	return nil
}

// keepalive sends periodic requests so idle sessions survive NAT timeouts.
func (t *SSH) keepalive(stop <-chan struct{}) {
	ticker := time.NewTicker(t.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.conn != nil {
				// A failure here just means the next operation will see it.
				_, _, _ = t.conn.SendRequest("keepalive@openssh.com", true, nil)
			}
			t.mu.Unlock()
		}
	}
}

// Connected reports whether the transport holds a live connection.
func (t *SSH) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Client exposes the raw connection for SFTP reuse.
func (t *SSH) Client() (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return t.conn, nil
}

// OpenShell allocates a PTY session and starts an interactive shell on it.
func (t *SSH) OpenShell() (Channel, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	for key, value := range t.opts.Env {
		// Servers commonly restrict AcceptEnv; failures are harmless.
		_ = session.Setenv(key, value)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(t.opts.Term, t.opts.Rows, t.opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &sshChannel{
		session: session,
		stdin:   stdin,
		pump:    newPump(stdout),
	}, nil
}

// Close tears down the connection and stops the keepalive loop.
func (t *SSH) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.keepaliveStop != nil {
		close(t.keepaliveStop)
		t.keepaliveStop = nil
	}
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// sshChannel is one PTY shell session over the shared connection.
type sshChannel struct {
	session *ssh.Session
	stdin   interface {
		Write([]byte) (int, error)
	}
	pump *pump

	mu     sync.Mutex
	closed bool
}

func (c *sshChannel) Send(s string) error {
	_, err := c.stdin.Write([]byte(s))
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *sshChannel) Recv(ctx context.Context, wait time.Duration) ([]byte, error) {
	return c.pump.recv(ctx, wait)
}

// Interrupt writes Ctrl+C through the PTY, which delivers SIGINT to the
// remote foreground process.
func (c *sshChannel) Interrupt() error {
	return c.Send("\x03")
}

func (c *sshChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.session.Close()
}
