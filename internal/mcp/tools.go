package mcp

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/marislab/helmsman/internal/controller"
	"github.com/marislab/helmsman/internal/sftp"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(shellExecTool(), s.handleShellExec)
	s.mcpServer.AddTool(shellInterruptTool(), s.handleShellInterrupt)
	s.mcpServer.AddTool(filePushTool(), s.handleFilePush)
	s.mcpServer.AddTool(filePullTool(), s.handleFilePull)
}

func shellExecTool() mcp.Tool {
	return mcp.NewTool("shell_exec",
		mcp.WithDescription("Execute a command on the persistent shell session and wait for completion. "+
			"Pagers are continued automatically, sudo passwords are answered from configuration, and "+
			"interactive prompts abort with the question included in the output."),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute"),
		),
		mcp.WithBoolean("reset_ssh",
			mcp.Description("Reconnect and replay pre-execute commands before running (default: false)"),
		),
		mcp.WithNumber("tail_lines",
			mcp.Description("Return only the last N lines of output (default: all)"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Base timeout in milliseconds (default: 30000); long-running "+
				"downloads and docker operations extend automatically"),
		),
		mcp.WithBoolean("stream",
			mcp.Description("Collect output for a fixed window instead of waiting for completion; "+
				"use for follow-style commands like 'docker logs -f'"),
		),
	)
}

func shellInterruptTool() mcp.Tool {
	return mcp.NewTool("shell_interrupt",
		mcp.WithDescription("Send Ctrl+C to the foreground process on the shell session"),
	)
}

func filePushTool() mcp.Tool {
	return mcp.NewTool("file_push",
		mcp.WithDescription("Upload local files to the remote host over SFTP. "+
			"The local path may be a glob (** supported); matches land under remote_path."),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description("Local file path or glob pattern"),
		),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Remote destination: a file path for a single file, a directory for globs"),
		),
	)
}

func filePullTool() mcp.Tool {
	return mcp.NewTool("file_pull",
		mcp.WithDescription("Download a file from the remote host over SFTP"),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Remote file path"),
		),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description("Local destination path"),
		),
	)
}

func (s *Server) handleShellExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := mcp.ParseString(req, "command", "")
	if strings.TrimSpace(command) == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	timeoutMS := mcp.ParseInt(req, "timeout_ms", 0)

	res, err := s.controller.Execute(ctx, controller.Request{
		Command:   command,
		Reset:     mcp.ParseBoolean(req, "reset_ssh", false),
		TailLines: mcp.ParseInt(req, "tail_lines", 0),
		Timeout:   time.Duration(timeoutMS) * time.Millisecond,
		Stream:    mcp.ParseBoolean(req, "stream", false),
	})
	if err != nil {
		if errors.Is(err, controller.ErrBusy) {
			return mcp.NewToolResultError("a command is already running; use shell_interrupt or wait"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatResult(res)), nil
}

// formatResult renders one text block: status header when not completed,
// then the output with its embedded annotations.
func formatResult(res *controller.Result) string {
	if res.Status == controller.StatusCompleted {
		return res.Output
	}
	return fmt.Sprintf("status: %s\n%s", res.Status, res.Output)
}

func (s *Server) handleShellInterrupt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.controller.Interrupt(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("interrupt: %v", err)), nil
	}
	return mcp.NewToolResultText("interrupt sent"), nil
}

func (s *Server) sftpClient() (*sftp.Client, error) {
	if s.sftpFactory == nil {
		return nil, fmt.Errorf("file transfer requires an SSH session")
	}
	return s.sftpFactory()
}

func (s *Server) handleFilePush(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	localPath := mcp.ParseString(req, "local_path", "")
	remotePath := mcp.ParseString(req, "remote_path", "")
	if localPath == "" || remotePath == "" {
		return mcp.NewToolResultError("local_path and remote_path are required"), nil
	}

	client, err := s.sftpClient()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	files, err := sftp.LocalGlob(localPath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(files) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("no files match %s", localPath)), nil
	}

	if len(files) == 1 && files[0] == localPath {
		// Exact single file: remote_path names the destination file.
		if err := client.Upload(localPath, remotePath); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("uploaded %s -> %s", localPath, remotePath)), nil
	}

	// Glob: remote_path is a directory, keep base names.
	var uploaded []string
	for _, f := range files {
		dst := path.Join(remotePath, filepath.Base(f))
		if err := client.Upload(f, dst); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("upload %s: %v", f, err)), nil
		}
		uploaded = append(uploaded, dst)
	}
	return mcp.NewToolResultText(fmt.Sprintf("uploaded %d files to %s:\n%s",
		len(uploaded), remotePath, strings.Join(uploaded, "\n"))), nil
}

func (s *Server) handleFilePull(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	remotePath := mcp.ParseString(req, "remote_path", "")
	localPath := mcp.ParseString(req, "local_path", "")
	if remotePath == "" || localPath == "" {
		return mcp.NewToolResultError("remote_path and local_path are required"), nil
	}

	client, err := s.sftpClient()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	info, err := client.Stat(remotePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stat remote file: %v", err)), nil
	}
	if info.IsDir() {
		return mcp.NewToolResultError("remote path is a directory"), nil
	}

	if err := client.Download(remotePath, localPath); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("downloaded %s -> %s (%d bytes)", remotePath, localPath, info.Size())), nil
}
