package classify

import (
	"strings"
	"testing"
	"time"

	"github.com/marislab/helmsman/internal/pattern"
)

func newTestClassifier() *Classifier {
	return NewClassifier(pattern.NewSet(), []string{"dev@box", "root@web1"})
}

func classifyOnce(t *testing.T, buf string, cmdText string) Signal {
	t.Helper()
	c := newTestClassifier()
	st := &State{LastOutput: time.Now()}
	return c.Classify(st, buf, buf, ParseCommand(cmdText), time.Now())
}

func TestPromptCompletes(t *testing.T) {
	sig := classifyOnce(t, "echo hello\r\nhello\r\nuser@host:~$ ", "echo hello")
	if sig.Kind != KindCompleted {
		t.Fatalf("Kind = %v, want completed", sig.Kind)
	}
}

func TestInteractiveBeatsPrompt(t *testing.T) {
	// The confirmation question and a prompt-shaped trailer both present;
	// the operator question must win.
	buf := "After this operation, 5 MB of additional disk space will be used.\r\nDo you want to continue? [Y/n] "
	sig := classifyOnce(t, buf, "sudo apt-get install jq")
	if sig.Kind != KindInteractive {
		t.Fatalf("Kind = %v, want interactive", sig.Kind)
	}
}

func TestCondaProceedPromptIsInteractive(t *testing.T) {
	sig := classifyOnce(t, "## Package Plan ##\r\n\r\nProceed ([y]/n)? ", "conda create -n demo python=3.12")
	if sig.Kind != KindInteractive {
		t.Fatalf("Kind = %v, want interactive", sig.Kind)
	}
}

func TestPagerSendsSpace(t *testing.T) {
	sig := classifyOnce(t, "some manual text\r\n--More--(17%)", "man ls")
	if sig.Kind != KindPager {
		t.Fatalf("Kind = %v, want pager", sig.Kind)
	}
	if sig.Reply != " " {
		t.Errorf("Reply = %q, want space", sig.Reply)
	}
}

func TestPagerEndSendsQuit(t *testing.T) {
	sig := classifyOnce(t, "last page of the file\r\n(END)", "less notes.txt")
	if sig.Kind != KindPager {
		t.Fatalf("Kind = %v, want pager", sig.Kind)
	}
	if sig.Reply != "q" {
		t.Errorf("Reply = %q, want q", sig.Reply)
	}
}

func TestPagerEndWithQuestionIsInteractive(t *testing.T) {
	buf := "license text\r\nDo you accept? Press enter to continue\r\n(END)"
	sig := classifyOnce(t, buf, "some-installer")
	if sig.Kind != KindInteractive {
		t.Fatalf("Kind = %v, want interactive", sig.Kind)
	}
}

func TestPasswordPromptThenPendingAfterAnswer(t *testing.T) {
	c := newTestClassifier()
	st := &State{LastOutput: time.Now()}
	buf := "[sudo] password for dev: "
	cmd := ParseCommand("sudo systemctl restart nginx")

	sig := c.Classify(st, buf, buf, cmd, time.Now())
	if sig.Kind != KindPasswordPrompt {
		t.Fatalf("first pass Kind = %v, want password-prompt", sig.Kind)
	}

	// The caller answers exactly once and marks the state.
	st.PasswordSent = true
	sig = c.Classify(st, buf, "", cmd, time.Now())
	if sig.Kind != KindPasswordPending {
		t.Fatalf("second pass Kind = %v, want password-pending", sig.Kind)
	}
}

func TestStalePagerMarkerDoesNotRefire(t *testing.T) {
	// Once content scrolls past the pager status line, the stale marker in
	// the buffer must not trigger another keystroke.
	buf := "--More--(17%)\r\nrest of the page\r\nuser@host:~$ "
	sig := classifyOnce(t, buf, "man ls")
	if sig.Kind != KindCompleted {
		t.Fatalf("Kind = %v, want completed", sig.Kind)
	}
}

func TestAnsweredPasswordPromptStopsBlockingCompletion(t *testing.T) {
	c := newTestClassifier()
	st := &State{LastOutput: time.Now(), PasswordSent: true}
	buf := "[sudo] password for dev: \r\nfile1\r\nuser@host:~$ "
	sig := c.Classify(st, buf, "", ParseCommand("sudo ls"), time.Now())
	if sig.Kind != KindCompleted {
		t.Fatalf("Kind = %v, want completed once the prompt scrolled past", sig.Kind)
	}
}

func TestPasswordPromptBlocksPromptCompletion(t *testing.T) {
	// The password line alone must not complete even though a bare-prompt
	// pattern could match the trailing colon-space region on other lines.
	buf := "output\r\nPassword: "
	sig := classifyOnce(t, buf, "ssh otherhost")
	if sig.Kind == KindCompleted {
		t.Fatal("password prompt must never classify as completed")
	}
}

func TestLockWaitThenAbortOnThirdRepeat(t *testing.T) {
	c := newTestClassifier()
	st := &State{LastOutput: time.Now()}
	cmd := ParseCommand("sudo apt-get install jq")
	msg := "Waiting for cache lock: Could not get lock /var/lib/dpkg/lock-frontend. It is held by process 1234\r\n"

	var buf strings.Builder
	for i := 1; i <= 3; i++ {
		buf.WriteString(msg)
		sig := c.Classify(st, buf.String(), msg, cmd, time.Now())
		switch {
		case i < 3 && sig.Kind != KindLockWait:
			t.Fatalf("repeat %d: Kind = %v, want lock-wait", i, sig.Kind)
		case i == 3 && sig.Kind != KindLockAbort:
			t.Fatalf("repeat %d: Kind = %v, want lock-abort", i, sig.Kind)
		}
	}
}

func TestLockCounterResetsOnDifferentFamily(t *testing.T) {
	c := newTestClassifier()
	st := &State{LastOutput: time.Now()}
	cmd := ParseCommand("sudo apt-get install jq")

	chunks := []string{
		"Waiting for cache lock: held by process 10\r\n",
		"Waiting for cache lock: held by process 10\r\n",
		"Could not get lock /var/lib/apt/lists/lock\r\n",
	}
	var sig Signal
	var buf strings.Builder
	for _, chunk := range chunks {
		buf.WriteString(chunk)
		sig = c.Classify(st, buf.String(), chunk, cmd, time.Now())
	}
	if sig.Kind != KindLockWait {
		t.Fatalf("Kind = %v, want lock-wait (family switch resets the counter)", sig.Kind)
	}
}

func TestAptUpdateCompletesOnDoneMarkersAfterQuiet(t *testing.T) {
	c := newTestClassifier()
	c.AptQuiet = 10 * time.Millisecond
	cmd := ParseCommand("sudo apt-get update")
	buf := strings.Join([]string{
		"Hit:1 http://archive.ubuntu.com/ubuntu jammy InRelease",
		"Reading package lists... Done",
		"Building dependency tree... Done",
		"Reading state information... Done",
		"",
	}, "\r\n")

	now := time.Now()
	st := &State{LastOutput: now}

	// Quiet period not yet elapsed.
	if sig := c.Classify(st, buf, "", cmd, now); sig.Kind == KindCompleted {
		t.Fatal("apt update completed before quiet period elapsed")
	}
	// Quiet period elapsed.
	sig := c.Classify(st, buf, "", cmd, now.Add(50*time.Millisecond))
	if sig.Kind != KindCompleted {
		t.Fatalf("Kind = %v, want completed after quiet period", sig.Kind)
	}
}

func TestAptUpdateNotCompleteWhileFetching(t *testing.T) {
	c := newTestClassifier()
	c.AptQuiet = time.Millisecond
	cmd := ParseCommand("sudo apt-get update")
	buf := strings.Join([]string{
		"Reading package lists... Done",
		"Building dependency tree... Done",
		"Reading state information... Done",
		"Get:4 http://archive.ubuntu.com/ubuntu jammy-updates/main amd64 Packages [1,200 kB]",
		"14% [4 Packages 210 kB/1,200 kB 12%]",
	}, "\r\n")

	now := time.Now()
	st := &State{LastOutput: now}
	sig := c.Classify(st, buf, "", cmd, now.Add(time.Second))
	if sig.Kind == KindCompleted {
		t.Fatal("apt update must not complete while fetch markers are in the tail")
	}
}

func TestCondaCreateCompletesOnActivationHint(t *testing.T) {
	buf := "Executing transaction: done\r\n#\r\n# To activate this environment, use\r\n#\r\n#     $ conda activate demo\r\n"
	sig := classifyOnce(t, buf, "conda create -n demo python=3.12 -y")
	if sig.Kind != KindCompleted {
		t.Fatalf("Kind = %v, want completed", sig.Kind)
	}
}

func TestPromptDuringAptDownloadIgnored(t *testing.T) {
	// A progress bar that happens to end in a prompt-shaped character must
	// not complete an apt command while fetch markers are present.
	buf := "Get:1 http://archive.ubuntu.com jammy InRelease\r\n42% [1 InRelease 120 kB/270 kB 44%] $ "
	sig := classifyOnce(t, buf, "sudo apt-get install build-essential")
	if sig.Kind == KindCompleted {
		t.Fatalf("Kind = %v, prompt match during download must not complete", sig.Kind)
	}
}

func TestKnownPromptFallback(t *testing.T) {
	c := newTestClassifier()
	st := &State{LastOutput: time.Now()}
	// A container PS1 none of the regexes match, but containing the learned
	// user@host fragment.
	buf := "ok\r\n\x1b[01;32mdev@box\x1b[00m:/work >> "
	sig := c.Classify(st, buf, "", ParseCommand("true"), time.Now())
	if sig.Kind != KindCompleted {
		t.Fatalf("Kind = %v, want completed via known prompt fragment", sig.Kind)
	}
}

func TestProgressSetsDownloadMode(t *testing.T) {
	c := newTestClassifier()
	st := &State{LastOutput: time.Now()}
	chunk := "a9a9ebe7ac34: Downloading  2.143MB/187.5MB"
	sig := c.Classify(st, chunk, chunk, ParseCommand("docker pull nginx"), time.Now())
	if sig.Kind != KindProgress {
		t.Fatalf("Kind = %v, want progress", sig.Kind)
	}
	if !st.DownloadMode {
		t.Error("progress must latch DownloadMode")
	}
	if st.LastProgress.IsZero() {
		t.Error("progress must stamp LastProgress")
	}
}

func TestQuietPollReturnsNone(t *testing.T) {
	c := newTestClassifier()
	st := &State{LastOutput: time.Now()}
	sig := c.Classify(st, "still working...", "", ParseCommand("sleep 60"), time.Now())
	if sig.Kind != KindNone {
		t.Fatalf("Kind = %v, want none on quiet mid-run poll", sig.Kind)
	}
}

func TestStripPrompt(t *testing.T) {
	ps := pattern.NewSet()
	out := StripPrompt("hello\r\nuser@host:~$ ", ps)
	if strings.Contains(out, "user@host") {
		t.Errorf("prompt not stripped: %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output body lost: %q", out)
	}
}

func TestStripPromptNoMatchIsNoop(t *testing.T) {
	ps := pattern.NewSet()
	if got := StripPrompt("plain output\r\n", ps); got != "plain output\r\n" {
		t.Errorf("StripPrompt altered promptless output: %q", got)
	}
}
