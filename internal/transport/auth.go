package transport

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthConfig selects how the SSH transport authenticates.
type AuthConfig struct {
	KeyPath       string // private key file, ~ expanded
	KeyPassphrase string
	UseAgent      bool
	Password      string
}

// BuildAuthMethods assembles auth methods in preference order: agent,
// explicit key, default key locations, then password plus
// keyboard-interactive (some sshd setups only offer the latter).
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if m, err := agentAuth(); err == nil {
			methods = append(methods, m)
		}
	}

	if cfg.KeyPath != "" {
		m, err := privateKeyAuth(cfg.KeyPath, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, m)
	}

	if cfg.KeyPath == "" && cfg.Password == "" && len(methods) == 0 {
		for _, candidate := range []string{"~/.ssh/id_ed25519", "~/.ssh/id_rsa", "~/.ssh/id_ecdsa"} {
			expanded := expandPath(candidate)
			if _, err := os.Stat(expanded); err != nil {
				continue
			}
			if m, err := privateKeyAuth(expanded, cfg.KeyPassphrase); err == nil {
				methods = append(methods, m)
				break
			}
		}
	}

	if cfg.Password != "" {
		methods = append(methods,
			ssh.Password(cfg.Password),
			keyboardInteractiveAuth(cfg.Password),
		)
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}
	return methods, nil
}

func agentAuth() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func privateKeyAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(expandPath(keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func keyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}

// BuildHostKeyCallback verifies against known_hosts when the file exists and
// accepts anything otherwise, matching first-connection behavior of plain
// ssh with StrictHostKeyChecking=accept-new.
func BuildHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	expanded := expandPath(knownHostsPath)

	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return nil
		}, nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
