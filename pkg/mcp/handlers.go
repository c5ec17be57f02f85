package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/octapusprime/octapus/pkg/diagram"
	"github.com/octapusprime/octapus/pkg/engine"
	"github.com/octapusprime/octapus/pkg/examples"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/validate"
)

// HandleValidate implements the octapus/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, errs, res := validateInput(req)
	if res != nil {
		return res, nil
	}
	if validate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", s.Name, len(s.Steps))
	if len(errs) > 0 {
		msg += "\n" + formatErrors(errs)
	}
	return textResult(msg), nil
}

// HandleSchema implements the octapus/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := scenario.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleExamples implements the octapus/examples MCP tool.
func HandleExamples(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := req.GetArguments()["id"].(string)
	if id != "" {
		raw, err := examples.Raw(id)
		if err != nil {
			return errorResult(fmt.Sprintf("%s (known: %s)", err, strings.Join(examples.IDs, ", "))), nil
		}
		return textResult(string(raw)), nil
	}

	list, err := examples.List()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	type entry struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Steps       int    `json:"steps"`
	}
	out := make([]entry, 0, len(list))
	for _, ex := range list {
		out = append(out, entry{
			ID:          ex.ID,
			Name:        examples.StripPrefix(ex.Scenario.Name),
			Description: ex.Scenario.Description,
			Steps:       len(ex.Scenario.Steps),
		})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return textResult(string(data)), nil
}

// HandleDiagram implements the octapus/diagram MCP tool.
func HandleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, errs, res := validateInput(req)
	if res != nil {
		return res, nil
	}
	if s == nil {
		return errorResult(formatErrors(errs)), nil
	}
	format := diagram.FormatMermaid
	if f, _ := req.GetArguments()["format"].(string); f != "" {
		var err error
		if format, err = diagram.ParseFormat(f); err != nil {
			return errorResult(err.Error()), nil
		}
	}
	out, err := diagram.Generate(s, format)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(out), nil
}

// HandleDryRun implements the octapus/dry_run MCP tool. No tool process
// is started; every evaluated step reports success with empty output.
func HandleDryRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, errs, res := validateInput(req)
	if res != nil {
		return res, nil
	}
	if validate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	overrides := make(map[string]string)
	if raw, ok := req.GetArguments()["vars"].(map[string]any); ok {
		for k, v := range raw {
			overrides[k] = fmt.Sprint(v)
		}
	}

	result := engine.New(engine.Config{DryRun: true}).Run(ctx, s, overrides)

	type step struct {
		Index  int    `json:"step"`
		Tool   string `json:"tool"`
		Args   string `json:"args"`
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
	}
	response := map[string]any{
		"name":      result.Name,
		"state":     result.State,
		"variables": result.Variables,
	}
	steps := make([]step, 0, len(result.Steps))
	for _, o := range result.Steps {
		steps = append(steps, step{
			Index:  o.Index + 1,
			Tool:   o.Tool,
			Args:   scenario.JoinArgs(o.Args),
			Status: string(o.Status),
			Reason: o.Reason,
		})
	}
	response["steps"] = steps
	if result.Err != nil {
		response["error"] = result.Err.Error()
	}

	data, _ := json.MarshalIndent(response, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: !result.Success(),
	}, nil
}

// validateInput loads the scenario named by the path or document
// argument. A non-nil result is a ready error response.
func validateInput(req mcp.CallToolRequest) (*scenario.Scenario, []*validate.ValidationError, *mcp.CallToolResult) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	doc, _ := args["document"].(string)

	var (
		s    *scenario.Scenario
		errs []*validate.ValidationError
	)
	switch {
	case path != "":
		s, errs = validate.ValidateFile(path)
	case doc != "":
		s, errs = validate.ValidateBytes("", []byte(doc))
	default:
		return nil, nil, errorResult("path or document argument is required")
	}
	if s == nil {
		return nil, errs, errorResult(formatErrors(errs))
	}
	return s, errs, nil
}

func formatErrors(errs []*validate.ValidationError) string {
	var b strings.Builder
	for _, e := range errs {
		fmt.Fprintf(&b, "[%s] %s\n", e.Severity, e.Error())
	}
	return strings.TrimRight(b.String(), "\n")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(msg)},
		IsError: true,
	}
}
