// helmsman is an MCP server that drives one persistent interactive shell,
// local or over SSH, and keeps commands from hanging on pagers, password
// prompts, and interactive questions.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marislab/helmsman/internal/config"
	"github.com/marislab/helmsman/internal/controller"
	"github.com/marislab/helmsman/internal/logging"
	"github.com/marislab/helmsman/internal/mcp"
	"github.com/marislab/helmsman/internal/pattern"
	"github.com/marislab/helmsman/internal/secret"
	"github.com/marislab/helmsman/internal/transport"
)

// Version information - set at build time.
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  string
		runSetup    bool
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&runSetup, "setup", false, "Interactively create or update the configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging and keep prompts in output")
	flag.Parse()

	if showVersion {
		fmt.Printf("helmsman version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	if runSetup {
		if err := setup(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Logging.Level = "debug"
		cfg.Session.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	target := "local pty"
	if cfg.Remote() {
		target = fmt.Sprintf("%s@%s:%d", cfg.Session.User, cfg.Session.Host, cfg.Session.Port)
	}
	slog.Info("starting helmsman",
		slog.String("version", Version),
		slog.String("target", target),
	)

	patterns := pattern.NewSet()
	if err := cfg.ApplyPatterns(patterns); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid patterns: %v\n", err)
		os.Exit(1)
	}

	secrets := secret.NewSource(cfg.Session.PasswordEnv, cfg.Session.UseKeyring,
		cfg.Session.Host, cfg.Session.User)

	tr, err := buildTransport(cfg, secrets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Transport setup failed: %v\n", err)
		os.Exit(1)
	}

	// A "user@" fragment catches prompts inside containers and chroots where
	// PS1 escapes the default patterns.
	knownPrompts := cfg.Session.KnownPrompts
	if cfg.Remote() {
		knownPrompts = append(knownPrompts, cfg.Session.User+"@")
	}

	ctrl := controller.New(tr, controller.Options{
		Patterns:       patterns,
		KnownPrompts:   knownPrompts,
		Password:       secrets.Password,
		PreExec:        cfg.Session.PreExecute,
		Timing:         timingFromConfig(cfg.Timing),
		Debug:          cfg.Session.Debug,
		DefaultTimeout: cfg.Timing.DefaultTimeout,
	})

	server := mcp.NewServer(mcp.Options{
		Controller: ctrl,
		Patterns:   patterns,
		Config:     cfg,
		Transport:  tr,
	})

	configWatcher, watcherErr := config.NewWatcher(configPath, func(newCfg *config.Config) {
		server.UpdateConfig(newCfg)
	})
	if watcherErr != nil {
		slog.Warn("config hot-reload disabled",
			slog.String("error", watcherErr.Error()),
		)
	} else {
		slog.Info("config hot-reload enabled",
			slog.String("path", configPath),
		)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal")
		if configWatcher != nil {
			configWatcher.Close()
		}
		ctrl.Close()
		os.Exit(0)
	}()

	if err := server.Run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		if configWatcher != nil {
			configWatcher.Close()
		}
		ctrl.Close()
		os.Exit(1)
	}
	ctrl.Close()
}

// buildTransport selects SSH or a local PTY from the session config.
func buildTransport(cfg *config.Config, secrets *secret.Source) (transport.Transport, error) {
	if !cfg.Remote() {
		return transport.NewLocal(transport.DefaultLocalOptions()), nil
	}

	password, err := secrets.Password()
	if err != nil {
		return nil, fmt.Errorf("resolve password: %w", err)
	}

	var passphrase string
	if cfg.Session.PassphraseEnv != "" {
		passphrase = os.Getenv(cfg.Session.PassphraseEnv)
	}

	auth, err := transport.BuildAuthMethods(transport.AuthConfig{
		KeyPath:       cfg.Session.KeyPath,
		KeyPassphrase: passphrase,
		UseAgent:      cfg.Session.UseAgent,
		Password:      password,
	})
	if err != nil {
		return nil, err
	}

	hostKey, err := transport.BuildHostKeyCallback(cfg.Session.KnownHosts)
	if err != nil {
		return nil, err
	}

	opts := transport.DefaultSSHOptions()
	opts.Host = cfg.Session.Host
	opts.Port = cfg.Session.Port
	opts.User = cfg.Session.User
	opts.AuthMethods = auth
	opts.HostKeyCallback = hostKey
	opts.ConnectTimeout = cfg.Session.ConnectTimeout
	return transport.NewSSH(opts)
}

// timingFromConfig maps the tunable delays; zero values keep the controller
// defaults.
func timingFromConfig(tc config.TimingConfig) controller.Timing {
	return controller.Timing{
		Poll:       tc.Poll,
		QuietProbe: tc.QuietProbe,
		StreamWait: tc.StreamWait,
	}
}
