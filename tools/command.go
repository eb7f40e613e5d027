package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/permission"
)

// ExecuteCommandTool implements the tool for running OS commands.
type ExecuteCommandTool struct {
	allowedCommands []string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a shell command. No commands are currently allowed. Args: command (string)."
	}

	allowedList := "Allowed command wildcard patterns:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}

	return fmt.Sprintf("Executes a shell command. Args: command (string).\n%s", allowedList)
}

// Permission asks before every command. An "always" reply remembers
// the command verb, not the full invocation.
func (t *ExecuteCommandTool) Permission(args map[string]interface{}) *permission.Request {
	command, _ := args["command"].(string)
	pattern := command
	if fields := strings.Fields(command); len(fields) > 0 {
		pattern = fields[0] + " *"
	}
	return &permission.Request{
		Type:     "command",
		Title:    fmt.Sprintf("Run command: %s", command),
		Pattern:  pattern,
		Metadata: map[string]interface{}{"command": command},
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	command, ok := args["command"].(string)
	if !ok {
		return nil, errors.New("missing or invalid 'command' argument")
	}

	allowed, err := isCommandAllowed(command, t.allowedCommands)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errors.New("command '%s' is not in the list of allowed commands", command)
	}

	// Basic shell-like execution
	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
	}

	return &Result{Output: string(output)}, nil
}
