// Package mcpserver exposes plan validation, the constitution gate, and
// decision extraction as MCP tools over stdio.
package mcpserver

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/c360studio/semgate/phase"
	"github.com/c360studio/semgate/review"
)

// Name is the MCP server name.
const Name = "semgate"

// New creates the MCP server with every tool registered. Feature tools are
// registered only when controller is non-nil.
func New(version string, reviewer *review.Reviewer, controller *phase.Controller) *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	validateTool := NewValidateTool(reviewer)
	s.AddTool(validateTool.Definition(), validateTool.Handle)

	extractTool := NewExtractTool(reviewer)
	s.AddTool(extractTool.Definition(), extractTool.Handle)

	gateTool := NewGateTool(reviewer)
	s.AddTool(gateTool.Definition(), gateTool.Handle)

	if controller != nil {
		statusTool := NewFeatureStatusTool(controller)
		s.AddTool(statusTool.Definition(), statusTool.Handle)

		advanceTool := NewFeatureAdvanceTool(controller)
		s.AddTool(advanceTool.Definition(), advanceTool.Handle)
	}
	return s
}

// ServeStdio serves s on in and out until ctx is cancelled or in closes.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	logger.Info("MCP server listening on stdio")
	return stdio.Listen(ctx, in, out)
}

const instructions = `semgate checks implementation plans before task breakdown.

Use semgate_validate to find missing or placeholder plan sections, semgate_gate
to evaluate the plan against constitution rules, and semgate_extract to list
decision statements with their significance verdict. A plan may move to task
breakdown only when validation passes and no blocking rule fails.
Candidates marked create-record need a human to confirm them before an
architecture decision record is written.`
