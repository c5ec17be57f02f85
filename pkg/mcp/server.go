// Package mcp exposes scenario tooling to AI agents over the Model Context
// Protocol.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with the octapus tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"octapus",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("octapus/validate",
			mcp.WithDescription("Validate an octapus scenario (JSON or YAML)"),
			mcp.WithString("path", mcp.Description("Path to the scenario file")),
			mcp.WithString("document", mcp.Description("Scenario JSON, used when no path is given")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("octapus/schema",
			mcp.WithDescription("Export the scenario JSON Schema"),
		),
		HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("octapus/examples",
			mcp.WithDescription("List the bundled example scenarios, or return one by id"),
			mcp.WithString("id", mcp.Description("Example id, e.g. web-app-scan (optional)")),
		),
		HandleExamples,
	)

	s.AddTool(
		mcp.NewTool("octapus/diagram",
			mcp.WithDescription("Render a scenario as a Mermaid flowchart or ASCII table"),
			mcp.WithString("path", mcp.Description("Path to the scenario file")),
			mcp.WithString("document", mcp.Description("Scenario JSON, used when no path is given")),
			mcp.WithString("format", mcp.Description("mermaid (default) or ascii")),
		),
		HandleDiagram,
	)

	s.AddTool(
		mcp.NewTool("octapus/dry_run",
			mcp.WithDescription("Walk a scenario without starting any tool and report which steps would run"),
			mcp.WithString("path", mcp.Description("Path to the scenario file")),
			mcp.WithString("document", mcp.Description("Scenario JSON, used when no path is given")),
			mcp.WithObject("vars", mcp.Description("Variable overrides")),
		),
		HandleDryRun,
	)

	return s
}
