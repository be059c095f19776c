// Package controller drives one persistent shell and runs the detection
// loop that decides when a command is done, stuck, or waiting on a human.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/marislab/helmsman/internal/classify"
	"github.com/marislab/helmsman/internal/pattern"
	"github.com/marislab/helmsman/internal/stream"
	"github.com/marislab/helmsman/internal/transport"
)

// ErrBusy is returned when a command is already in flight on this session.
var ErrBusy = errors.New("another command is already running on this session")

// Status is the outcome of one Execute call.
type Status int

const (
	StatusCompleted Status = iota
	StatusTimedOut
	StatusAbortedInteractive
	StatusAbortedLockContention
	StatusTransportError
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusTimedOut:
		return "timed-out"
	case StatusAbortedInteractive:
		return "aborted-interactive"
	case StatusAbortedLockContention:
		return "aborted-lock-contention"
	case StatusTransportError:
		return "transport-error"
	}
	return "unknown"
}

// Annotations appended to output so the caller sees why the run ended even
// when it only reads the text.
const (
	noteInteractive = "\n[waiting for operator input: interactive prompt detected]"
	noteLockAbort   = "\n[aborted: repeated lock wait messages, operator action required]"
	noteTimeout     = "\n[command timed out]"
	notePassword    = "\n[password required but none is configured]"
)

// Timing gathers every delay the loop uses so tests can run in milliseconds.
type Timing struct {
	// Poll is how long each Recv waits for output.
	Poll time.Duration
	// PagerContinueDelay precedes the space sent to a paging pager.
	PagerContinueDelay time.Duration
	// PagerQuitDelay precedes the q sent at end of pager content.
	PagerQuitDelay time.Duration
	// PasswordDelay lets the prompt finish printing before the answer.
	PasswordDelay time.Duration
	// QuietProbe is the silence after which a bare newline is sent to
	// provoke a prompt redraw.
	QuietProbe time.Duration
	// QuietProbeMargin suppresses the probe near the deadline.
	QuietProbeMargin time.Duration
	// EchoGrace is the extra wait when output so far is only the echo.
	EchoGrace time.Duration
	// StreamWait is the fixed collection window in streaming mode.
	StreamWait time.Duration
	// BannerQuiet ends the post-connect banner drain after this much
	// silence; BannerMax caps the whole drain.
	BannerQuiet time.Duration
	BannerMax   time.Duration
	// DockerIdle keeps docker commands alive past the deadline while
	// output arrived this recently.
	DockerIdle time.Duration
}

// DefaultTiming returns production delays.
func DefaultTiming() Timing {
	return Timing{
		Poll:               100 * time.Millisecond,
		PagerContinueDelay: 100 * time.Millisecond,
		PagerQuitDelay:     500 * time.Millisecond,
		PasswordDelay:      500 * time.Millisecond,
		QuietProbe:         15 * time.Second,
		QuietProbeMargin:   20 * time.Second,
		EchoGrace:          5 * time.Second,
		StreamWait:         2 * time.Second,
		BannerQuiet:        300 * time.Millisecond,
		BannerMax:          2 * time.Second,
		DockerIdle:         30 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.Poll == 0 {
		t.Poll = def.Poll
	}
	if t.PagerContinueDelay == 0 {
		t.PagerContinueDelay = def.PagerContinueDelay
	}
	if t.PagerQuitDelay == 0 {
		t.PagerQuitDelay = def.PagerQuitDelay
	}
	if t.PasswordDelay == 0 {
		t.PasswordDelay = def.PasswordDelay
	}
	if t.QuietProbe == 0 {
		t.QuietProbe = def.QuietProbe
	}
	if t.QuietProbeMargin == 0 {
		t.QuietProbeMargin = def.QuietProbeMargin
	}
	if t.EchoGrace == 0 {
		t.EchoGrace = def.EchoGrace
	}
	if t.StreamWait == 0 {
		t.StreamWait = def.StreamWait
	}
	if t.BannerQuiet == 0 {
		t.BannerQuiet = def.BannerQuiet
	}
	if t.BannerMax == 0 {
		t.BannerMax = def.BannerMax
	}
	if t.DockerIdle == 0 {
		t.DockerIdle = def.DockerIdle
	}
	return t
}

// PasswordFunc supplies the sudo/login password on demand. Returning an
// empty string means no password is available.
type PasswordFunc func() (string, error)

// Request is one command execution.
type Request struct {
	Command string
	// Reset tears the session down and reconnects before executing.
	Reset bool
	// TailLines trims the returned output to its last n lines.
	TailLines int
	// Timeout overrides the base timeout; class policy still applies.
	Timeout time.Duration
	// Stream collects output for a fixed window instead of waiting for
	// completion; follow-style commands get an interrupt afterwards.
	Stream bool
	// Debug keeps the trailing prompt in the output.
	Debug bool
}

// Result is the outcome of one execution.
type Result struct {
	Status   Status
	Output   string
	Matched  string // pattern or marker that ended the run
	Duration time.Duration
}

// Options configures a Controller.
type Options struct {
	Patterns     *pattern.Set
	KnownPrompts []string
	Password     PasswordFunc
	PreExec      []string
	Timing       Timing
	Logger       *slog.Logger
	Debug        bool
	// MaxBufferLines caps the working buffer scanned by the classifier.
	MaxBufferLines int
	// DefaultTimeout overrides the per-class base timeout for every command;
	// zero keeps the class budgets.
	DefaultTimeout time.Duration
}

// Controller owns one transport and serializes command execution on it.
type Controller struct {
	transport  transport.Transport
	classifier *classify.Classifier
	patterns   *pattern.Set
	password   PasswordFunc
	preExec    *PreExecRunner
	timing     Timing
	log        *slog.Logger
	debug      bool
	maxLines   int
	defTimeout time.Duration

	execMu sync.Mutex // held for the duration of Execute

	mu sync.Mutex // guards ch
	ch transport.Channel
}

// New builds a Controller over the given transport.
func New(t transport.Transport, opts Options) *Controller {
	if opts.Patterns == nil {
		opts.Patterns = pattern.NewSet()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBufferLines == 0 {
		opts.MaxBufferLines = 200
	}
	timing := opts.Timing.withDefaults()

	return &Controller{
		transport:  t,
		classifier: classify.NewClassifier(opts.Patterns, opts.KnownPrompts),
		patterns:   opts.Patterns,
		password:   opts.Password,
		preExec:    &PreExecRunner{Commands: opts.PreExec, Log: opts.Logger},
		timing:     timing,
		log:        opts.Logger,
		debug:      opts.Debug,
		maxLines:   opts.MaxBufferLines,
		defTimeout: opts.DefaultTimeout,
	}
}

// Execute runs one command to a terminal state. Only one command may be in
// flight at a time; concurrent calls fail fast with ErrBusy.
func (c *Controller) Execute(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("empty command")
	}
	if !c.execMu.TryLock() {
		return nil, ErrBusy
	}
	defer c.execMu.Unlock()

	start := time.Now()
	ch, err := c.channel(ctx, req.Reset)
	if err != nil {
		return &Result{
			Status:   StatusTransportError,
			Output:   fmt.Sprintf("[connection error: %v]", err),
			Duration: time.Since(start),
		}, nil
	}

	cmd := classify.ParseCommand(req.Command)
	c.log.Info("executing command",
		"command", truncate(req.Command, 200),
		"stream", req.Stream || cmd.LogsFollow,
		"reset", req.Reset)

	var res *Result
	if req.Stream || cmd.LogsFollow {
		res = c.executeStreaming(ctx, ch, req)
	} else {
		res = c.executeBlocking(ctx, ch, cmd, req)
	}
	res.Duration = time.Since(start)

	c.log.Info("command finished",
		"status", res.Status.String(),
		"matched", res.Matched,
		"duration", res.Duration,
		"output_bytes", len(res.Output))
	return res, nil
}

// Interrupt sends Ctrl+C to the current shell.
func (c *Controller) Interrupt() error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("no active shell")
	}
	return ch.Interrupt()
}

// Close tears down the shell and the transport.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	c.mu.Unlock()
	return c.transport.Close()
}

// channel returns the live shell, establishing (or re-establishing on
// reset) the connection, draining the login banner, and replaying the
// pre-execute commands.
func (c *Controller) channel(ctx context.Context, reset bool) (transport.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reset && c.ch != nil {
		c.log.Info("resetting session")
		c.ch.Close()
		c.ch = nil
		c.transport.Close()
	}
	if c.ch != nil {
		return c.ch, nil
	}

	if !c.transport.Connected() {
		if err := c.transport.Connect(); err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
	}
	ch, err := c.transport.OpenShell()
	if err != nil {
		return nil, fmt.Errorf("open shell: %w", err)
	}

	c.drainBanner(ctx, ch)
	if err := c.preExec.Run(ctx, ch, c.classifier, c.timing); err != nil {
		ch.Close()
		return nil, fmt.Errorf("pre-execute: %w", err)
	}

	c.ch = ch
	return ch, nil
}

// drainBanner swallows the MOTD and first prompt so they never show up in
// the first command's output.
func (c *Controller) drainBanner(ctx context.Context, ch transport.Channel) {
	deadline := time.Now().Add(c.timing.BannerMax)
	for time.Now().Before(deadline) {
		chunk, err := ch.Recv(ctx, c.timing.BannerQuiet)
		if err != nil || chunk == nil {
			return
		}
	}
}

func (c *Controller) dropChannel(ch transport.Channel) {
	ch.Close()
	c.mu.Lock()
	if c.ch == ch {
		c.ch = nil
	}
	c.mu.Unlock()
}

// executeBlocking runs the classification loop until a terminal signal.
func (c *Controller) executeBlocking(ctx context.Context, ch transport.Channel, cmd classify.Command, req Request) *Result {
	if err := ch.Send(req.Command + "\n"); err != nil {
		c.dropChannel(ch)
		return &Result{Status: StatusTransportError, Output: fmt.Sprintf("[send error: %v]", err)}
	}

	budget := cmd.Budget()
	timeout := c.resolveTimeout(req, budget)

	buf := stream.New()
	start := time.Now()
	st := &classify.State{LastOutput: start}
	nudged := false

	for {
		chunk, err := ch.Recv(ctx, c.timing.Poll)
		if err != nil {
			c.dropChannel(ch)
			out := buf.String() + fmt.Sprintf("\n[connection error: %v]", err)
			return &Result{Status: StatusTransportError, Output: out}
		}
		now := time.Now()

		decoded := buf.Append(chunk)
		if decoded != "" {
			st.LastOutput = now
			buf.TrimToMax(c.maxLines)
			c.log.Debug("received output", "chunk", truncate(decoded, 400))
		}

		sig := c.classifier.Classify(st, buf.String(), decoded, cmd, now)
		switch sig.Kind {
		case classify.KindCompleted:
			return c.finishCompleted(ctx, ch, buf, cmd, req, sig)

		case classify.KindInteractive:
			c.log.Info("interactive prompt detected", "pattern", sig.Pattern)
			return &Result{
				Status:  StatusAbortedInteractive,
				Output:  c.render(buf.String(), req) + noteInteractive,
				Matched: sig.Pattern,
			}

		case classify.KindLockAbort:
			c.log.Warn("repeated lock contention, aborting", "marker", sig.Pattern)
			return &Result{
				Status:  StatusAbortedLockContention,
				Output:  c.render(buf.String(), req) + noteLockAbort,
				Matched: sig.Pattern,
			}

		case classify.KindLockWait:
			c.log.Info("lock contention message", "marker", sig.Pattern)

		case classify.KindPager:
			delay := c.timing.PagerContinueDelay
			if sig.Reply == "q" {
				delay = c.timing.PagerQuitDelay
			}
			c.log.Info("pager detected", "pattern", sig.Pattern, "reply", sig.Reply)
			if err := c.sleepThenSend(ctx, ch, delay, sig.Reply); err != nil {
				c.dropChannel(ch)
				return &Result{Status: StatusTransportError, Output: buf.String()}
			}
			st.LastOutput = time.Now()

		case classify.KindPasswordPrompt:
			pw := c.fetchPassword()
			if pw == "" {
				c.log.Warn("password prompt with no configured password", "pattern", sig.Pattern)
				return &Result{
					Status:  StatusAbortedInteractive,
					Output:  c.render(buf.String(), req) + notePassword,
					Matched: sig.Pattern,
				}
			}
			c.log.Info("answering password prompt", "pattern", sig.Pattern)
			if err := c.sleepThenSend(ctx, ch, c.timing.PasswordDelay, pw+"\n"); err != nil {
				c.dropChannel(ch)
				return &Result{Status: StatusTransportError, Output: buf.String()}
			}
			st.PasswordSent = true
			st.LastOutput = time.Now()

		case classify.KindPasswordPending, classify.KindProgress, classify.KindNone:
			// Completion stays blocked; the deadline check below decides.
		}

		// Deadlines apply to every poll, not only quiet ones. A pager or a
		// re-presented password prompt that matches forever must still
		// exhaust the budget.
		if done := c.checkDeadlines(ctx, ch, st, cmd, budget, timeout, start, now, &nudged); done != nil {
			done.Output = c.render(buf.String(), req) + noteTimeout
			return done
		}

		if ctx.Err() != nil {
			return &Result{Status: StatusTimedOut, Output: c.render(buf.String(), req) + noteTimeout}
		}
	}
}

// resolveTimeout picks the base timeout: explicit request override first,
// then the session default, then the command class budget.
func (c *Controller) resolveTimeout(req Request, budget classify.Budget) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if c.defTimeout > 0 {
		return c.defTimeout
	}
	return budget.Base
}

// checkDeadlines applies the class-aware timeout policy on each poll.
// A non-nil result means the command timed out.
func (c *Controller) checkDeadlines(ctx context.Context, ch transport.Channel, st *classify.State, cmd classify.Command, budget classify.Budget, timeout time.Duration, start, now time.Time, nudged *bool) *Result {
	elapsed := now.Sub(start)
	capped := budget.WallCap > 0 && elapsed > budget.WallCap

	if st.DownloadMode {
		sinceProgress := now.Sub(st.LastProgress)
		if sinceProgress <= budget.ProgressWindow {
			if capped {
				c.log.Warn("wall cap exceeded during download", "elapsed", elapsed)
				return &Result{Status: StatusTimedOut}
			}
			return nil
		}
		// Download stalled. Wall-capped classes ride it out; others get
		// one nudge before giving up.
		if budget.WallCap > 0 && !capped {
			return nil
		}
		if !*nudged {
			c.log.Warn("download stalled, nudging", "since_progress", sinceProgress)
			_ = ch.Send("\n")
			_ = ch.Send(" ")
			st.LastProgress = now
			*nudged = true
			return nil
		}
		return &Result{Status: StatusTimedOut}
	}

	if elapsed > timeout {
		if cmd.Docker && now.Sub(st.LastOutput) < c.timing.DockerIdle && !capped {
			return nil
		}
		c.log.Warn("command timed out", "elapsed", elapsed, "timeout", timeout)
		return &Result{Status: StatusTimedOut}
	}

	// Long silence well before the deadline: poke the shell so a prompt
	// that was printed without a newline gets redrawn.
	if now.Sub(st.LastOutput) > c.timing.QuietProbe && elapsed < timeout-c.timing.QuietProbeMargin {
		c.log.Debug("quiet period, sending probe newline")
		_ = ch.Send("\n")
		st.LastOutput = now
	}
	return nil
}

// finishCompleted applies the echo grace period and output cleanup.
func (c *Controller) finishCompleted(ctx context.Context, ch transport.Channel, buf *stream.Buffer, cmd classify.Command, req Request, sig classify.Signal) *Result {
	out := c.render(buf.String(), req)

	// If everything we captured is just the echoed command, the real
	// output may still be in flight; wait once more.
	if strings.TrimSpace(out) == "" || strings.TrimSpace(out) == strings.TrimSpace(req.Command) {
		if chunk, err := ch.Recv(ctx, c.timing.EchoGrace); err == nil && chunk != nil {
			buf.Append(chunk)
			out = c.render(buf.String(), req)
		}
	}

	if req.TailLines > 0 {
		out = stream.Tail(out, req.TailLines)
	}
	return &Result{Status: StatusCompleted, Output: out, Matched: sig.Pattern}
}

// render strips the echoed command line and, outside debug mode, the
// trailing prompt.
func (c *Controller) render(raw string, req Request) string {
	out := raw
	if !c.debug && !req.Debug {
		out = classify.StripPrompt(out, c.patterns)
	}
	out = stripEcho(out, req.Command)
	return strings.TrimRight(out, "\r\n")
}

// stripEcho removes the leading echoed command line if present.
func stripEcho(output, command string) string {
	norm := strings.ReplaceAll(output, "\r\n", "\n")
	idx := strings.Index(norm, "\n")
	if idx < 0 {
		if strings.HasSuffix(strings.TrimSpace(norm), strings.TrimSpace(command)) {
			return ""
		}
		return output
	}
	first := strings.TrimSpace(norm[:idx])
	if strings.HasSuffix(first, strings.TrimSpace(command)) {
		return norm[idx+1:]
	}
	return norm
}

// executeStreaming collects output for a fixed window instead of waiting
// for a prompt; used for follow-style commands that never complete.
func (c *Controller) executeStreaming(ctx context.Context, ch transport.Channel, req Request) *Result {
	if err := ch.Send(req.Command + "\n"); err != nil {
		c.dropChannel(ch)
		return &Result{Status: StatusTransportError, Output: fmt.Sprintf("[send error: %v]", err)}
	}

	buf := stream.New()
	deadline := time.Now().Add(c.timing.StreamWait)
	for time.Now().Before(deadline) {
		chunk, err := ch.Recv(ctx, c.timing.Poll)
		if err != nil {
			c.dropChannel(ch)
			return &Result{Status: StatusTransportError, Output: buf.String() + fmt.Sprintf("\n[connection error: %v]", err)}
		}
		buf.Append(chunk)
		buf.TrimToMax(c.maxLines)
		if ctx.Err() != nil {
			break
		}
	}

	// Streamed commands are expected to run indefinitely; stop the process
	// so the shell is usable for the next command.
	c.log.Info("interrupting streamed command")
	_ = ch.Interrupt()
	// Drain whatever the interrupt flushes.
	for {
		chunk, err := ch.Recv(ctx, c.timing.Poll)
		if err != nil || chunk == nil {
			break
		}
		buf.Append(chunk)
		buf.TrimToMax(c.maxLines)
	}

	out := c.render(buf.String(), req)
	if req.TailLines > 0 {
		out = stream.Tail(out, req.TailLines)
	}
	return &Result{Status: StatusCompleted, Output: out}
}

func (c *Controller) fetchPassword() string {
	if c.password == nil {
		return ""
	}
	pw, err := c.password()
	if err != nil {
		c.log.Warn("password lookup failed", "error", err)
		return ""
	}
	return pw
}

func (c *Controller) sleepThenSend(ctx context.Context, ch transport.Channel, d time.Duration, s string) error {
	if err := sleepCtx(ctx, d); err != nil {
		return err
	}
	return ch.Send(s)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
