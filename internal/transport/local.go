package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// LocalOptions configures a local PTY transport.
type LocalOptions struct {
	Shell string // defaults to $SHELL, then /bin/bash
	Term  string
	Rows  uint16
	Cols  uint16
	Dir   string
	Env   []string
}

// DefaultLocalOptions mirrors the remote shell settings: dumb terminal,
// fixed prompt, colors off, so the same patterns match local output.
func DefaultLocalOptions() LocalOptions {
	return LocalOptions{
		Shell: detectShell(),
		Term:  "dumb",
		Rows:  24,
		Cols:  120,
		Env: []string{
			"PS1=$ ",
			"PROMPT_COMMAND=",
			"NO_COLOR=1",
		},
	}
}

// Local runs the shell on this machine behind a pseudo-terminal.
type Local struct {
	opts LocalOptions

	mu sync.Mutex
	ch *localChannel
}

// NewLocal returns an unconnected local transport.
func NewLocal(opts LocalOptions) *Local {
	if opts.Shell == "" {
		opts.Shell = detectShell()
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
	return &Local{opts: opts}
}

// Connect is a no-op; the PTY is created per shell.
func (t *Local) Connect() error { return nil }

// Connected always reports true; there is nothing to dial.
func (t *Local) Connected() bool { return true }

// OpenShell starts the shell under a fresh PTY.
func (t *Local) OpenShell() (Channel, error) {
	cmd := exec.Command(t.opts.Shell)
	if t.opts.Dir != "" {
		cmd.Dir = t.opts.Dir
	}
	cmd.Env = append(os.Environ(), fmt.Sprintf("TERM=%s", t.opts.Term))
	cmd.Env = append(cmd.Env, t.opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: t.opts.Rows, Cols: t.opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	ch := &localChannel{cmd: cmd, pty: ptmx, pump: newPump(ptmx)}
	t.mu.Lock()
	t.ch = ch
	t.mu.Unlock()
	return ch, nil
}

// Close tears down the current shell, if any.
func (t *Local) Close() error {
	t.mu.Lock()
	ch := t.ch
	t.ch = nil
	t.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

type localChannel struct {
	cmd  *exec.Cmd
	pty  *os.File
	pump *pump

	mu     sync.Mutex
	closed bool
}

func (c *localChannel) Send(s string) error {
	_, err := c.pty.WriteString(s)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *localChannel) Recv(ctx context.Context, wait time.Duration) ([]byte, error) {
	return c.pump.recv(ctx, wait)
}

// Interrupt signals the shell's process group directly; unlike the remote
// case there is no PTY line discipline guarantee for ^C under TERM=dumb.
func (c *localChannel) Interrupt() error {
	if c.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return c.cmd.Process.Signal(syscall.SIGINT)
}

func (c *localChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.pty.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return err
}

func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	for _, shell := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}
