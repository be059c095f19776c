// Package classify turns accumulated shell output into detection signals.
// One classifier serves both blocking and streaming execution; the caller
// owns the read loop and acts on the returned signal.
package classify

import (
	"strings"
	"time"

	"github.com/marislab/helmsman/internal/pattern"
	"github.com/marislab/helmsman/internal/stream"
)

// Kind identifies what the classifier saw in the output.
type Kind int

const (
	// KindNone means nothing actionable; keep polling.
	KindNone Kind = iota
	// KindProgress means download/progress output arrived; extend patience.
	KindProgress
	// KindPager means a pager is holding the screen; send Reply to continue.
	KindPager
	// KindPasswordPrompt means a password prompt appeared and has not been
	// answered yet this execution.
	KindPasswordPrompt
	// KindPasswordPending means a password prompt is visible but the single
	// allowed answer was already sent; completion stays blocked.
	KindPasswordPending
	// KindInteractive means the command is waiting for an operator decision.
	KindInteractive
	// KindLockWait means a lock contention message arrived; not yet fatal.
	KindLockWait
	// KindLockAbort means the same lock message repeated enough times that
	// waiting further is pointless.
	KindLockAbort
	// KindCompleted means the shell is back at a prompt (or a class-specific
	// completion marker fired).
	KindCompleted
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindProgress:
		return "progress"
	case KindPager:
		return "pager"
	case KindPasswordPrompt:
		return "password-prompt"
	case KindPasswordPending:
		return "password-pending"
	case KindInteractive:
		return "interactive"
	case KindLockWait:
		return "lock-wait"
	case KindLockAbort:
		return "lock-abort"
	case KindCompleted:
		return "completed"
	}
	return "unknown"
}

// Signal is one classification outcome.
type Signal struct {
	Kind Kind
	// Pattern is the pattern source or literal marker that fired.
	Pattern string
	// Reply is the keystroke sequence the caller should send, if any.
	Reply string
	// Reason is a short human-readable note for logs and result annotations.
	Reason string
}

// State carries detection state across polls of a single execution. A fresh
// State is created per command.
type State struct {
	// PasswordSent records that the one allowed password answer went out.
	PasswordSent bool
	// DownloadMode latches once progress output is seen and switches the
	// caller to the activity-extension timeout policy.
	DownloadMode bool
	// LastProgress is when progress output last arrived.
	LastProgress time.Time
	// LastOutput is when any output last arrived; the caller updates it on
	// every non-empty chunk.
	LastOutput time.Time

	lockRepeats    int
	lastLockFamily string
}

// Lock contention markers. Messages from the same family repeating
// back-to-back count toward the abort threshold.
var lockFamilies = []string{
	"Waiting for cache lock",
	"Could not get lock",
}

// lockAbortThreshold is how many consecutive same-family lock messages it
// takes to give up on the command.
const lockAbortThreshold = 3

// aptDoneMarkers must all appear near the end of output for an apt update to
// count as finished.
var aptDoneMarkers = []string{
	"Reading package lists... Done",
	"Building dependency tree... Done",
	"Reading state information... Done",
}

// downloadingMarkers indicate a fetch still in flight; a prompt match while
// any of these sit in the recent lines is a false completion.
var downloadingMarkers = []string{
	"%]", "MB/s", "Get:", "Fetched", "Waiting for headers",
}

// interactiveKeywords turn a pager (END) hold into an operator decision when
// one of them appears in the last few lines.
var interactiveKeywords = []string{
	"continue", "yes", "no", "y/n", "select", "choice",
	"enter", "proceed", "confirm", "abort", "accept",
	"press [enter]", "press enter", "ctrl-c", "component", "repository",
}

const condaCreateDone = "To activate this environment, use"

// Classifier evaluates output against a pattern set. Call Classify on every
// poll, including quiet ones, so time-based completion rules can fire.
type Classifier struct {
	// Patterns supplies the five category lists; swappable at runtime.
	Patterns *pattern.Set
	// Known holds literal prompt fragments for the last-line fallback,
	// typically hostname and username learned at connect time.
	Known []string
	// Window bounds how many trailing lines are scanned per poll.
	Window int
	// AptQuiet is the no-output period required before an apt update with
	// all done markers present counts as complete.
	AptQuiet time.Duration
}

// NewClassifier returns a classifier with production defaults.
func NewClassifier(ps *pattern.Set, known []string) *Classifier {
	return &Classifier{
		Patterns: ps,
		Known:    known,
		Window:   40,
		AptQuiet: 5 * time.Second,
	}
}

// Classify inspects the buffer and the newest chunk (possibly empty on a
// quiet poll) and returns the highest-priority signal. Priority: lock
// contention, interactive prompts, pagers, password prompts, class-specific
// completion, generic prompt match, known-prompt fallback, progress.
func (c *Classifier) Classify(st *State, buf, chunk string, cmd Command, now time.Time) Signal {
	window := stream.Tail(buf, c.Window)

	if sig, ok := c.classifyLock(st, chunk); ok {
		return sig
	}
	if sig, ok := c.classifyInteractive(window); ok {
		return sig
	}
	if sig, ok := c.classifyPager(window); ok {
		return sig
	}
	if sig, ok := c.classifyPassword(st, window); ok {
		return sig
	}
	if sig, ok := c.classifyClassCompletion(st, buf, cmd, now); ok {
		return sig
	}
	if sig, ok := c.classifyPrompt(buf, window, cmd); ok {
		return sig
	}
	if sig, ok := c.classifyKnownPrompt(buf, cmd); ok {
		return sig
	}
	if sig, ok := c.classifyProgress(st, chunk, now); ok {
		return sig
	}
	return Signal{Kind: KindNone}
}

func (c *Classifier) classifyLock(st *State, chunk string) (Signal, bool) {
	if chunk == "" {
		return Signal{}, false
	}
	var family string
	for _, f := range lockFamilies {
		if strings.Contains(chunk, f) {
			family = f
			break
		}
	}
	if family == "" {
		return Signal{}, false
	}
	if st.lastLockFamily == family {
		st.lockRepeats++
	} else {
		st.lastLockFamily = family
		st.lockRepeats = 1
	}
	if st.lockRepeats >= lockAbortThreshold {
		return Signal{
			Kind:    KindLockAbort,
			Pattern: family,
			Reason:  "repeated lock wait messages",
		}, true
	}
	return Signal{Kind: KindLockWait, Pattern: family}, true
}

func (c *Classifier) classifyInteractive(window string) (Signal, bool) {
	for i, re := range c.Patterns.Regexps(pattern.CategoryInteractive) {
		if re.MatchString(window) {
			return Signal{
				Kind:    KindInteractive,
				Pattern: c.Patterns.Get(pattern.CategoryInteractive)[i],
				Reason:  "command is waiting for operator input",
			}, true
		}
	}
	return Signal{}, false
}

// classifyPager matches the last line only: a pager hold leaves the cursor
// on its status line, so once content scrolls past it the stale marker in
// the buffer must not trigger another keystroke.
func (c *Classifier) classifyPager(window string) (Signal, bool) {
	last := stream.LastLine(window)
	if strings.Contains(last, "(END)") {
		// less at end of content: quit rather than page further, unless the
		// surrounding lines look like a question for the operator.
		for _, line := range strings.Split(stream.LastLines(window, 5), "\n") {
			lower := strings.ToLower(line)
			for _, kw := range interactiveKeywords {
				if strings.Contains(lower, kw) {
					return Signal{
						Kind:    KindInteractive,
						Pattern: "(END)",
						Reason:  "interactive hint near pager end",
					}, true
				}
			}
		}
		return Signal{Kind: KindPager, Pattern: "(END)", Reply: "q"}, true
	}
	for i, re := range c.Patterns.Regexps(pattern.CategoryPager) {
		if re.MatchString(last) {
			return Signal{
				Kind:    KindPager,
				Pattern: c.Patterns.Get(pattern.CategoryPager)[i],
				Reply:   " ",
			}, true
		}
	}
	return Signal{}, false
}

// classifyPassword also matches the last line only. An answered prompt
// scrolls up and must stop blocking completion; a waiting prompt is always
// the final unterminated line.
func (c *Classifier) classifyPassword(st *State, window string) (Signal, bool) {
	last := stream.LastLine(window)
	for i, re := range c.Patterns.Regexps(pattern.CategoryPassword) {
		if !re.MatchString(last) {
			continue
		}
		src := c.Patterns.Get(pattern.CategoryPassword)[i]
		if st.PasswordSent {
			return Signal{
				Kind:    KindPasswordPending,
				Pattern: src,
				Reason:  "password already sent once this execution",
			}, true
		}
		return Signal{Kind: KindPasswordPrompt, Pattern: src}, true
	}
	return Signal{}, false
}

// classifyClassCompletion applies completion markers specific to a command
// class, which fire before any shell prompt is visible.
func (c *Classifier) classifyClassCompletion(st *State, buf string, cmd Command, now time.Time) (Signal, bool) {
	if cmd.AptUpdate {
		tail := stream.LastLines(buf, 20)
		done := true
		for _, m := range aptDoneMarkers {
			if !strings.Contains(tail, m) {
				done = false
				break
			}
		}
		if done && !containsAny(tail, downloadingMarkers) &&
			!st.LastOutput.IsZero() && now.Sub(st.LastOutput) > c.AptQuiet {
			return Signal{
				Kind:    KindCompleted,
				Pattern: aptDoneMarkers[0],
				Reason:  "apt update done markers with quiet period",
			}, true
		}
	}
	if cmd.CondaCreate && strings.Contains(buf, condaCreateDone) {
		return Signal{
			Kind:    KindCompleted,
			Pattern: condaCreateDone,
			Reason:  "conda environment creation finished",
		}, true
	}
	return Signal{}, false
}

func (c *Classifier) classifyPrompt(buf, window string, cmd Command) (Signal, bool) {
	for i, re := range c.Patterns.Regexps(pattern.CategoryPrompt) {
		if !re.MatchString(window) {
			continue
		}
		if c.downloadStillRunning(buf, cmd) {
			return Signal{}, false
		}
		return Signal{
			Kind:    KindCompleted,
			Pattern: c.Patterns.Get(pattern.CategoryPrompt)[i],
		}, true
	}
	return Signal{}, false
}

// classifyKnownPrompt is the literal fallback for prompts the regexes miss,
// such as heavily customized PS1 inside containers.
func (c *Classifier) classifyKnownPrompt(buf string, cmd Command) (Signal, bool) {
	last := stream.LastLine(buf)
	if last == "" {
		return Signal{}, false
	}
	for _, known := range c.Known {
		if known == "" || !strings.Contains(last, known) {
			continue
		}
		for _, re := range c.Patterns.Regexps(pattern.CategoryPassword) {
			if re.MatchString(last) {
				return Signal{}, false
			}
		}
		if c.downloadStillRunning(buf, cmd) {
			return Signal{}, false
		}
		return Signal{Kind: KindCompleted, Pattern: known, Reason: "known prompt fragment on last line"}, true
	}
	return Signal{}, false
}

func (c *Classifier) classifyProgress(st *State, chunk string, now time.Time) (Signal, bool) {
	if chunk == "" {
		return Signal{}, false
	}
	for i, re := range c.Patterns.Regexps(pattern.CategoryProgress) {
		if re.MatchString(chunk) {
			st.DownloadMode = true
			st.LastProgress = now
			return Signal{
				Kind:    KindProgress,
				Pattern: c.Patterns.Get(pattern.CategoryProgress)[i],
			}, true
		}
	}
	return Signal{}, false
}

// downloadStillRunning guards fetch-heavy commands against prompt-shaped
// progress output: a match is ignored while recent lines show a download.
func (c *Classifier) downloadStillRunning(buf string, cmd Command) bool {
	if !cmd.Apt && !cmd.Download {
		return false
	}
	return containsAny(stream.LastLines(buf, 10), downloadingMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// StripPrompt removes the trailing shell prompt from completed output. The
// last occurrence of the first matching pattern is cut, leaving everything
// before it.
func StripPrompt(output string, ps *pattern.Set) string {
	for _, re := range ps.Regexps(pattern.CategoryPrompt) {
		locs := re.FindAllStringIndex(output, -1)
		if len(locs) == 0 {
			continue
		}
		return output[:locs[len(locs)-1][0]]
	}
	return output
}
