package tools

import (
	"context"
	"fmt"

	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/tools/mcp"
)

// mcpToolAdapter fits an external MCP tool into the Tool interface.
// External tools always require approval; an "always" reply remembers
// the qualified tool name.
type mcpToolAdapter struct {
	tool *mcp.MCPTool
}

func (a *mcpToolAdapter) Name() string        { return a.tool.Name() }
func (a *mcpToolAdapter) Description() string { return a.tool.Description() }

func (a *mcpToolAdapter) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	output, err := a.tool.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	return &Result{Output: output}, nil
}

func (a *mcpToolAdapter) Permission(args map[string]interface{}) *permission.Request {
	qualified := a.tool.Server() + "." + a.tool.Name()
	return &permission.Request{
		Type:    "mcp",
		Title:   fmt.Sprintf("Call external tool %s", qualified),
		Pattern: qualified,
		Metadata: map[string]interface{}{
			"server": a.tool.Server(),
			"tool":   a.tool.Name(),
			"args":   args,
		},
	}
}
