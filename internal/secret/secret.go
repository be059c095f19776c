// Package secret resolves the session password without ever writing it to
// config files: environment first, then the OS keyring (macOS Keychain,
// Linux Secret Service, Windows Credential Manager).
package secret

import (
	"fmt"
	"os"
	"sync"

	"github.com/zalando/go-keyring"
)

const keyringService = "helmsman"

func keyringEntry(user, host string) string {
	return fmt.Sprintf("password:%s@%s", user, host)
}

// Source supplies the password for one session, caching the first
// successful lookup for the lifetime of the process.
type Source struct {
	EnvVar     string
	UseKeyring bool
	Host       string
	User       string

	mu     sync.Mutex
	cached string
	loaded bool

	// overridable for tests
	keyringGet func(service, key string) (string, error)
}

// NewSource builds a password source for the given session.
func NewSource(envVar string, useKeyring bool, host, user string) *Source {
	return &Source{
		EnvVar:     envVar,
		UseKeyring: useKeyring,
		Host:       host,
		User:       user,
		keyringGet: keyring.Get,
	}
}

// Password returns the resolved password, or "" when none is configured.
// A configured-but-failing keyring is an error; an absent entry is not.
func (s *Source) Password() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return s.cached, nil
	}

	if s.EnvVar != "" {
		if pw := os.Getenv(s.EnvVar); pw != "" {
			s.cached = pw
			s.loaded = true
			return pw, nil
		}
	}

	if s.UseKeyring {
		pw, err := s.keyringGet(keyringService, keyringEntry(s.User, s.Host))
		switch {
		case err == nil:
			s.cached = pw
			s.loaded = true
			return pw, nil
		case err == keyring.ErrNotFound:
			// fall through to "no password"
		default:
			return "", fmt.Errorf("keyring lookup: %w", err)
		}
	}

	s.loaded = true
	return "", nil
}

// Store saves a password in the OS keyring for later sessions.
func Store(host, user, password string) error {
	if err := keyring.Set(keyringService, keyringEntry(user, host), password); err != nil {
		return fmt.Errorf("keyring store: %w", err)
	}
	return nil
}

// Delete removes a stored password. A missing entry is not an error.
func Delete(host, user string) error {
	err := keyring.Delete(keyringService, keyringEntry(user, host))
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
