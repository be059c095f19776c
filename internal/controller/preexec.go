package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/marislab/helmsman/internal/classify"
	"github.com/marislab/helmsman/internal/stream"
	"github.com/marislab/helmsman/internal/transport"
)

// PreExecRunner replays setup commands (cd, docker exec, conda activate)
// on every fresh shell, so a session reset lands the agent back in the same
// working context.
type PreExecRunner struct {
	mu       sync.Mutex
	Commands []string
	// Timeout bounds each individual command; zero means 15 seconds.
	Timeout time.Duration
	Log     *slog.Logger
}

// Add appends a command to replay on subsequent resets.
func (r *PreExecRunner) Add(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	r.mu.Lock()
	r.Commands = append(r.Commands, command)
	r.mu.Unlock()
}

// List returns a copy of the registered commands.
func (r *PreExecRunner) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Commands))
	copy(out, r.Commands)
	return out
}

// Run executes each command and waits for the shell to come back to a
// prompt. A setup command that hangs or asks a question is interrupted,
// logged, and skipped; only a dead channel fails the replay.
func (r *PreExecRunner) Run(ctx context.Context, ch transport.Channel, cl *classify.Classifier, timing Timing) error {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	for _, command := range r.List() {
		if err := r.runOne(ctx, ch, cl, timing, command, timeout, log); err != nil {
			return err
		}
	}
	return nil
}

func (r *PreExecRunner) runOne(ctx context.Context, ch transport.Channel, cl *classify.Classifier, timing Timing, command string, timeout time.Duration, log *slog.Logger) error {
	if err := ch.Send(command + "\n"); err != nil {
		return fmt.Errorf("send %q: %w", command, err)
	}

	buf := stream.New()
	start := time.Now()
	st := &classify.State{LastOutput: start}
	cmd := classify.ParseCommand(command)

	for {
		chunk, err := ch.Recv(ctx, timing.Poll)
		if err != nil {
			return fmt.Errorf("recv during %q: %w", command, err)
		}
		now := time.Now()
		decoded := buf.Append(chunk)
		if decoded != "" {
			st.LastOutput = now
		}

		sig := cl.Classify(st, buf.String(), decoded, cmd, now)
		switch {
		case sig.Kind == classify.KindCompleted:
			return nil
		case sig.Kind == classify.KindInteractive || sig.Kind == classify.KindPasswordPrompt:
			log.Warn("setup command needs input, skipping", "command", command, "pattern", sig.Pattern)
			_ = ch.Interrupt()
			return nil
		case now.Sub(start) > timeout:
			log.Warn("setup command timed out, skipping", "command", command)
			_ = ch.Interrupt()
			return nil
		}
	}
}
