package tools

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/m4xw311/comclerk/config"
	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
	"github.com/m4xw311/comclerk/tools/mcp"
)

// Result is what a tool execution produces. Attachments are file
// parts the tool wants shown alongside its output (and re-injected
// into the next inference request when forwardable).
type Result struct {
	Output      string
	Attachments []session.Part
}

// Tool defines the interface for any action the agent can take.
// Permission describes the approval a given invocation needs; nil
// means the invocation runs without asking.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
	Permission(args map[string]interface{}) *permission.Request
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
}

func NewToolRegistry(cfg *config.Config) *ToolRegistry {
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
	}

	// Register default tools
	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands})

	for _, mcpServer := range cfg.AdditionalMCPServers {
		client, err := mcp.NewMCPClient(mcpServer.Name, mcpServer.Command, mcpServer.Args)
		if err != nil {
			log.Printf("skipping MCP server '%s': %v", mcpServer.Name, err)
			continue
		}
		r.mcpClients[mcpServer.Name] = client
		for _, t := range client.Tools() {
			r.Register(&mcpToolAdapter{tool: t})
		}
	}

	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Stop terminates any MCP server subprocesses the registry started.
func (r *ToolRegistry) Stop() {
	for _, client := range r.mcpClients {
		if err := client.Stop(); err != nil {
			log.Printf("stopping MCP server '%s': %v", client.Name, err)
		}
	}
}

// GetActiveTools returns the tool instances for a given toolset. MCP
// tools are addressed as "<server>.<tool>", with "<server>.*" pulling
// in everything the server offers.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	for _, toolName := range ts.Tools {
		if server, rest, ok := strings.Cut(toolName, "."); ok {
			client, found := r.mcpClients[server]
			if !found {
				return nil, errors.New("MCP server '%s' from toolset '%s' is not configured", server, ts.Name)
			}
			if rest == "*" {
				for _, t := range client.Tools() {
					activeTools = append(activeTools, &mcpToolAdapter{tool: t})
				}
				continue
			}
			t, found := client.GetTool(rest)
			if !found {
				return nil, errors.New("tool '%s' from toolset '%s' is not provided by its server", toolName, ts.Name)
			}
			activeTools = append(activeTools, &mcpToolAdapter{tool: t})
			continue
		}

		if t, ok := r.GetTool(toolName); ok {
			activeTools = append(activeTools, t)
		} else {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
	}
	return activeTools, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) (bool, error) {
	cmdParts := strings.Fields(command)
	if len(cmdParts) == 0 {
		return false, nil
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Printf("invalid regex in allowed_commands '%s': %v", pattern, err)
			// Fallback to simple string comparison if regex is invalid
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}
