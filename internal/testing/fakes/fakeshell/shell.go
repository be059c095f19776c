// Package fakeshell provides fake transport channels for testing detection
// loops without a real shell.
package fakeshell

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/marislab/helmsman/internal/transport"
)

// Channel is a scriptable shell channel. Queued chunks are returned one per
// Recv call; an OnSend hook lets tests react to what the loop writes.
type Channel struct {
	mu          sync.Mutex
	queue       [][]byte
	sent        bytes.Buffer
	onSend      func(s string)
	failErr     error // returned once the queue is drained
	closed      bool
	interrupted bool
}

// New creates an empty fake channel.
func New() *Channel {
	return &Channel{}
}

// Queue appends output chunks to be returned by subsequent Recv calls.
func (c *Channel) Queue(chunks ...string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chunk := range chunks {
		c.queue = append(c.queue, []byte(chunk))
	}
	return c
}

// OnSend registers a hook invoked with every string written to the shell.
// Hooks typically Queue the shell's reaction.
func (c *Channel) OnSend(fn func(s string)) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = fn
	return c
}

// FailAfterDrain makes Recv return err once all queued chunks are consumed.
func (c *Channel) FailAfterDrain(err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
	return c
}

// Send records the written string and triggers the OnSend hook.
func (c *Channel) Send(s string) error {
	c.mu.Lock()
	c.sent.WriteString(s)
	fn := c.onSend
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return nil
}

// Recv pops the next queued chunk, or waits out the poll interval and
// reports a quiet poll.
func (c *Channel) Recv(ctx context.Context, wait time.Duration) ([]byte, error) {
	c.mu.Lock()
	if len(c.queue) > 0 {
		chunk := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return chunk, nil
	}
	err := c.failErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

// Interrupt records that Ctrl+C was requested.
func (c *Channel) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted = true
	return nil
}

// Close marks the channel closed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Sent returns everything written to the shell.
func (c *Channel) Sent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent.String()
}

// WasInterrupted reports whether Interrupt was called.
func (c *Channel) WasInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// IsClosed reports whether Close was called.
func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Transport hands out pre-scripted channels in order and counts lifecycle
// calls.
type Transport struct {
	mu       sync.Mutex
	channels []*Channel
	next     int

	connects int
	closes   int
	shells   int

	ConnectErr error
	ShellErr   error
}

// NewTransport creates a transport that serves the given channels in order.
// When the list runs out, OpenShell keeps returning the last one.
func NewTransport(channels ...*Channel) *Transport {
	return &Transport{channels: channels}
}

func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	t.connects++
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects > t.closes
}

func (t *Transport) OpenShell() (transport.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ShellErr != nil {
		return nil, t.ShellErr
	}
	t.shells++
	if len(t.channels) == 0 {
		return New(), nil
	}
	if t.next >= len(t.channels) {
		return t.channels[len(t.channels)-1], nil
	}
	ch := t.channels[t.next]
	t.next++
	return ch, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

// Connects returns how many times Connect succeeded.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Shells returns how many shells were opened.
func (t *Transport) Shells() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shells
}
