// Package pattern stores the regex pattern sets that drive output detection.
// It is pure storage: matching lives in the classifier, so deployments can
// swap pattern lists at runtime without touching the state machine.
package pattern

import (
	"fmt"
	"regexp"
	"sync"
)

// Category names one of the five pattern lists.
type Category string

const (
	// CategoryPrompt matches the shell's ready-for-input marker.
	CategoryPrompt Category = "prompt"
	// CategoryPassword matches password prompts; a prompt match overlapping
	// one of these never counts as completion.
	CategoryPassword Category = "password"
	// CategoryPager matches pager holds (--More--, (END), press q).
	CategoryPager Category = "pager"
	// CategoryInteractive matches confirmation prompts that require an
	// operator decision.
	CategoryInteractive Category = "interactive"
	// CategoryProgress matches download/progress bar output used to extend
	// timeout tolerance.
	CategoryProgress Category = "progress"
)

// Categories lists all valid categories.
func Categories() []Category {
	return []Category{
		CategoryPrompt,
		CategoryPassword,
		CategoryPager,
		CategoryInteractive,
		CategoryProgress,
	}
}

// Set holds the five ordered pattern lists. Lists are replaced as a unit;
// within a list the first matching pattern is the one reported in logs.
type Set struct {
	mu       sync.RWMutex
	sources  map[Category][]string
	compiled map[Category][]*regexp.Regexp
}

// NewSet returns a Set preloaded with the default patterns.
func NewSet() *Set {
	s := &Set{
		sources:  make(map[Category][]string),
		compiled: make(map[Category][]*regexp.Regexp),
	}
	for cat, patterns := range defaultPatterns() {
		// Defaults are compile-checked by tests; ignore error by construction.
		_ = s.Set(cat, patterns)
	}
	return s
}

// Get returns a copy of the pattern sources for a category.
func (s *Set) Get(cat Category) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.sources[cat]))
	copy(out, s.sources[cat])
	return out
}

// Regexps returns the compiled patterns for a category. The returned slice
// must not be mutated.
func (s *Set) Regexps(cat Category) []*regexp.Regexp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiled[cat]
}

// Set replaces the pattern list for a category as a unit. The whole list is
// validated before anything is swapped, so a bad reload leaves the previous
// list in place.
func (s *Set) Set(cat Category, patterns []string) error {
	if !validCategory(cat) {
		return fmt.Errorf("unknown pattern category %q", cat)
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("compile pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	src := make([]string, len(patterns))
	copy(src, patterns)

	s.mu.Lock()
	s.sources[cat] = src
	s.compiled[cat] = compiled
	s.mu.Unlock()
	return nil
}

func validCategory(cat Category) bool {
	switch cat {
	case CategoryPrompt, CategoryPassword, CategoryPager, CategoryInteractive, CategoryProgress:
		return true
	}
	return false
}

// defaultPatterns returns the built-in lists, ordered most specific first.
func defaultPatterns() map[Category][]string {
	return map[Category][]string{
		CategoryPrompt: {
			// Conda/virtualenv prompts inside containers, e.g. (base) dev@abc123:~/code$
			`(?m)\([^)]+\) [^\s@]+@[^:]+:[^$]+\$\s*$`,
			`(?m)\r?\n\([^)]+\)\s+[^\s@]+@[^\s:]+:[^\s]+[#\$]\s*$`,
			// username@hostname:path$ and [user@host dir]$
			`(?m)\r?\n[^\s@]+@[^\s:]+:[^\s]+[#\$]\s*$`,
			`(?m)\r?\n\[[^\]]+\][#\$]\s*$`,
			// Bare prompts on their own line, then anywhere at end of buffer.
			`(?m)\r?\n[#\$>]\s*$`,
			`(?m)[#\$>]\s*$`,
			// Prompts wrapped in ANSI escape sequences.
			`(?m)\r?\n.*\x1b\[[0-9;]*[a-zA-Z].*[#\$>]\s*$`,
		},
		CategoryPassword: {
			`(?m).*password.*for.*:.*$`,
			`(?m).*\[sudo\].*password.*:.*$`,
			`(?m).*Password:.*$`,
		},
		CategoryPager: {
			`(?m)--More--($|\r?\n)`,
			`(?m)--More--\(\d+%\)($|\r?\n)`,
			`(?m)\(END\)($|\r?\n)`,
			`(?m)\(more\)($|\r?\n)`,
			`Press q to quit, any other key to continue`,
			`Press RETURN to continue`,
		},
		CategoryInteractive: {
			`Do you accept the license terms\?`,
			`Do you want to continue\?`,
			`Do you wish to continue\?`,
			`(?m)(\[Y/n\])(\s+)?$`,
			`(?m)(\[y/N\])(\s+)?$`,
			`(?m)(y/n)(\s+)?$`,
			`\(y/\[n\]\)\?`,
			`(?m)(yes\|no)(\s+)?$`,
			`please answer (yes|no)`,
			`Proceed \(\[y\]/n\)\?`,
			`(?m)Proceed \(\[.*?\]\)(\s+)?$`,
			`Press ENTER to continue`,
			`Press \[ENTER\] to continue or Ctrl-c to cancel`,
			`(?i)press any key to continue`,
			`(?i)please select an option`,
			`.*will be deleted.*continue`,
			`.*component.*to all repositories.*`,
		},
		CategoryProgress: {
			`\|\s*\d+%`,
			`\d+%\s*\|`,
			`\d+%.*\[.*\]`,
			`\[#+[>\s]*\]`,
			`Downloading.*\d+%`,
			`Progress.*\d+%`,
			`Installing.*\d+%`,
			`\d+\.\d+ MB`,
			// Conda transaction phases.
			`Downloading and Extracting Packages`,
			`Preparing transaction`,
			`Verifying transaction`,
			`Executing transaction`,
			// Docker layer pulls.
			`[a-f0-9]+: (Downloading|Pulling|Waiting|Verifying|Extracting)`,
			`[a-f0-9]+: (Download complete|Pull complete)`,
			`Pulling from`,
			// Git clone phases.
			`(remote:\s+)?(Counting|Compressing|Receiving) objects:`,
			`(remote:\s+)?Resolving deltas:`,
			`Unpacking objects:`,
			`Checking out files:`,
			// apt fetch lines.
			`Get:\d+ `,
			`Fetched [\d.]+ [kMG]B`,
		},
	}
}
