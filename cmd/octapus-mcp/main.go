// Package main provides the octapus-mcp binary, an MCP server that lets
// agents validate, inspect and dry-run scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	omcp "github.com/octapusprime/octapus/pkg/mcp"
)

var version = "dev"

func main() {
	s := omcp.NewServer(version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
