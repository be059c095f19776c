// Package transport provides the shell channels the controller drives:
// an SSH PTY for remote hosts and a local PTY for same-machine sessions.
package transport

import (
	"context"
	"io"
	"sync"
	"time"
)

// Channel is one interactive shell. Recv is the only suspension point the
// controller uses, so it must honor context cancellation.
type Channel interface {
	// Send writes keystrokes to the shell exactly as given; callers append
	// their own newline when they want the line executed.
	Send(s string) error
	// Recv returns the next chunk of output, waiting up to wait for data.
	// A nil chunk with a nil error means the shell was quiet.
	Recv(ctx context.Context, wait time.Duration) ([]byte, error)
	// Interrupt sends Ctrl+C to the foreground process.
	Interrupt() error
	// Close tears the shell down.
	Close() error
}

// Transport owns a connection that can host shell channels.
type Transport interface {
	Connect() error
	Connected() bool
	OpenShell() (Channel, error)
	Close() error
}

// pump moves reads from a blocking io.Reader onto a channel so Recv can
// select against timeouts and context cancellation. SSH sessions have no
// read deadline, so this goroutine is the only way to make reads
// interruptible.
type pump struct {
	chunks chan []byte

	mu  sync.Mutex
	err error
}

const pumpReadSize = 64 * 1024

func newPump(r io.Reader) *pump {
	p := &pump{chunks: make(chan []byte, 8)}
	go p.run(r)
	return p
}

func (p *pump) run(r io.Reader) {
	buf := make([]byte, pumpReadSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.chunks <- chunk
		}
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			close(p.chunks)
			return
		}
	}
}

func (p *pump) readErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil || p.err == io.EOF {
		return io.EOF
	}
	return p.err
}

// recv waits up to wait for the next chunk. Quiet polls return (nil, nil).
func (p *pump) recv(ctx context.Context, wait time.Duration) ([]byte, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk, ok := <-p.chunks:
		if !ok {
			return nil, p.readErr()
		}
		return chunk, nil
	case <-timer.C:
		return nil, nil
	}
}
