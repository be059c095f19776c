package classify

import (
	"strings"
	"time"
)

// Command carries the class flags derived from the command text. Classes are
// keyword matches, not shell parsing; they only steer timeout policy and a
// few class-specific completion heuristics.
type Command struct {
	Text string

	Sudo        bool
	Apt         bool
	AptUpdate   bool
	Conda       bool
	CondaCreate bool
	Docker      bool
	DockerPull  bool
	LogsFollow  bool
	Download    bool
}

// downloadKeywords flag commands likely to fetch or install something.
var downloadKeywords = []string{
	"apt", "apt-get", "yum", "dnf", "pip", "conda", "npm",
	"wget", "curl", "install", "update", "upgrade", "git", "clone",
}

// ParseCommand classifies a command line by substring matching.
func ParseCommand(text string) Command {
	lower := strings.ToLower(text)

	cmd := Command{
		Text:        text,
		Sudo:        strings.Contains(text, "sudo "),
		Conda:       strings.Contains(text, "conda "),
		CondaCreate: strings.Contains(text, "conda create"),
		Docker:      strings.Contains(text, "docker "),
		DockerPull:  strings.Contains(text, "docker pull"),
		LogsFollow: strings.Contains(text, "docker logs -f") ||
			strings.Contains(text, "docker logs --follow"),
		AptUpdate: strings.Contains(text, "apt-get update") ||
			strings.Contains(text, "apt update"),
	}
	for _, aptCmd := range []string{"apt-get", "apt "} {
		if strings.Contains(text, aptCmd) {
			cmd.Apt = true
			break
		}
	}
	for _, kw := range downloadKeywords {
		if strings.Contains(lower, kw) {
			cmd.Download = true
			break
		}
	}
	return cmd
}

// Budget is the timeout policy for one command class.
type Budget struct {
	// Base is the hard timeout when no activity extension applies.
	Base time.Duration
	// ProgressWindow extends the run while progress markers keep arriving
	// within this quiet window.
	ProgressWindow time.Duration
	// WallCap bounds activity-based extension; zero means the progress
	// window alone governs.
	WallCap time.Duration
}

// Budget returns the timeout policy for the command's class.
func (c Command) Budget() Budget {
	b := Budget{
		Base:           30 * time.Second,
		ProgressWindow: 180 * time.Second,
	}
	switch {
	case c.DockerPull:
		b.WallCap = 3600 * time.Second
	case c.Docker:
		b.WallCap = 1800 * time.Second
	case c.CondaCreate:
		b.WallCap = 1800 * time.Second
	}
	return b
}
