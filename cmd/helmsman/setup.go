package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/marislab/helmsman/internal/config"
	"github.com/marislab/helmsman/internal/secret"
)

// setup runs the interactive first-run form and writes the config file.
// Existing values prefill the form so it doubles as an editor.
func setup(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	portStr := strconv.Itoa(cfg.Session.Port)
	if portStr == "0" {
		portStr = "22"
	}

	var (
		password  string
		confirmed bool
	)

	fmt.Println("\n  helmsman: Shell Session Configuration")
	fmt.Println("  Leave Host empty to drive a local shell instead of SSH.")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Host").
				Description("SSH hostname or IP address (empty for a local PTY)").
				Value(&cfg.Session.Host),

			huh.NewInput().
				Title("Port").
				Description("SSH port").
				Value(&portStr),

			huh.NewInput().
				Title("User").
				Description("SSH username").
				Value(&cfg.Session.User),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("SSH Key Path").
				Description("Path to SSH private key (leave empty for ssh-agent or default keys)").
				Value(&cfg.Session.KeyPath),

			huh.NewConfirm().
				Title("Use ssh-agent?").
				Value(&cfg.Session.UseAgent),

			huh.NewInput().
				Title("Password").
				Description("Login/sudo password to store in the OS keyring (optional, never written to disk)").
				EchoMode(huh.EchoModePassword).
				Value(&password),

			huh.NewInput().
				Title("Password Env Var").
				Description("Environment variable holding the password (alternative to the keyring)").
				Value(&cfg.Session.PasswordEnv),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Value(&confirmed),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("Aborted, nothing written.")
		return nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		port = 22
	}
	cfg.Session.Port = port

	if password != "" {
		if cfg.Session.Host == "" || cfg.Session.User == "" {
			return fmt.Errorf("storing a password needs both host and user")
		}
		if err := secret.Store(cfg.Session.Host, cfg.Session.User, password); err != nil {
			return err
		}
		cfg.Session.UseKeyring = true
		fmt.Printf("Password stored in the OS keyring for %s@%s.\n", cfg.Session.User, cfg.Session.Host)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, configPath); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", configPath)
	return nil
}
