// Package mcp exposes the shell controller over the Model Context Protocol.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/marislab/helmsman/internal/config"
	"github.com/marislab/helmsman/internal/controller"
	"github.com/marislab/helmsman/internal/pattern"
	"github.com/marislab/helmsman/internal/sftp"
	"github.com/marislab/helmsman/internal/transport"
)

// Server wires the MCP tools to one shell controller.
type Server struct {
	mcpServer  *server.MCPServer
	controller *controller.Controller
	patterns   *pattern.Set
	config     *config.Config

	// sftpClient is built lazily from the SSH transport; nil for local
	// sessions, where file tools are unavailable.
	sftpFactory func() (*sftp.Client, error)
}

// Options carries the session dependencies into the server.
type Options struct {
	Controller *controller.Controller
	Patterns   *pattern.Set
	Config     *config.Config
	// Transport is consulted for SFTP when it is an SSH transport.
	Transport transport.Transport
}

// NewServer creates the MCP server and registers the tools.
func NewServer(opts Options) *Server {
	mcpServer := server.NewMCPServer(
		"helmsman",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		controller: opts.Controller,
		patterns:   opts.Patterns,
		config:     opts.Config,
	}

	if sshTransport, ok := opts.Transport.(*transport.SSH); ok {
		s.sftpFactory = func() (*sftp.Client, error) {
			conn, err := sshTransport.Client()
			if err != nil {
				return nil, err
			}
			return sftp.NewClient(conn), nil
		}
	}

	s.registerTools()
	return s
}

// Run serves MCP over stdio until the client disconnects.
func (s *Server) Run() error {
	slog.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a hot-reloaded configuration. Only pattern lists are
// swappable at runtime; connection settings need a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if err := cfg.ApplyPatterns(s.patterns); err != nil {
		slog.Warn("config reload kept previous patterns", "error", err)
		return
	}
	s.config = cfg
	slog.Info("detection patterns hot-reloaded")
}
