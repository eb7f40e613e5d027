package agent

import (
	"context"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/llm"
	"github.com/m4xw311/comclerk/materialize"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
	"github.com/m4xw311/comclerk/tools"
)

const subtaskToolName = "subtask"

// maxSubtaskRounds bounds a nested run more tightly than the parent
// turn; sub-agents are meant for focused errands.
const maxSubtaskRounds = 10

// subtaskTool only advertises the capability to the model. Invocations
// are intercepted by the agent, which runs the nested conversation
// itself so it can record the subtask part.
type subtaskTool struct{}

func (t *subtaskTool) Name() string { return subtaskToolName }
func (t *subtaskTool) Description() string {
	return "Delegates a focused task to a sub-agent with its own conversation. " +
		"Args: prompt (string), description (string, short label for the task)."
}

func (t *subtaskTool) Permission(args map[string]interface{}) *permission.Request { return nil }

func (t *subtaskTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	return nil, errors.New("subtask invocations are handled by the agent")
}

// runSubtask records a subtask part and runs a nested conversation to
// completion. The sub-agent shares the parent's tools and approval
// gate but its messages never enter the parent session; only the final
// output flows back, as both the part's output and a tool result the
// model reads on the next round.
func (a *Agent) runSubtask(ctx context.Context, sessionID, messageID string, call llm.ToolCall) error {
	prompt, _ := call.Args["prompt"].(string)
	description, _ := call.Args["description"].(string)

	part, err := a.Store.AppendPart(sessionID, messageID, session.Part{
		Type:        session.PartSubtask,
		Agent:       "subtask",
		Prompt:      prompt,
		Description: description,
		Status:      session.ToolRunning,
	})
	if err != nil {
		return errors.Wrapf(err, "recording subtask")
	}

	// The result must also reach the model, so the subtask doubles as
	// a tool part keyed by the original call ID.
	toolPart, err := a.Store.AppendPart(sessionID, messageID, session.Part{
		Type:   session.PartTool,
		Tool:   subtaskToolName,
		CallID: call.ToolCallID,
		State: &session.ToolState{
			Status: session.ToolRunning,
			Input:  call.Args,
			Time:   &session.PartTime{Start: session.NowMillis()},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "recording subtask tool call")
	}

	output, runErr := a.runNested(ctx, sessionID, messageID, prompt)

	state := session.ToolState{
		Status: session.ToolCompleted,
		Input:  call.Args,
		Output: output,
		Time:   &session.PartTime{Start: toolPart.State.Time.Start, End: session.NowMillis()},
	}
	subStatus := session.ToolCompleted
	if runErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		state.Status = session.ToolError
		state.Error = runErr.Error()
		state.Output = ""
		subStatus = session.ToolError
	}

	if err := a.Store.UpdateToolState(sessionID, messageID, toolPart.ID, state); err != nil {
		return errors.Wrapf(err, "recording subtask result")
	}
	return a.updateSubtaskPart(sessionID, messageID, part.ID, subStatus, output)
}

// runNested drives the sub-agent's private conversation. Tool parts
// of the nested run are not persisted; its tool results exist only in
// the in-memory message list.
func (a *Agent) runNested(ctx context.Context, sessionID, messageID, prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("subtask prompt is empty")
	}

	conversation := []materialize.Message{{
		Role:    materialize.RoleUser,
		Content: []materialize.Block{{Type: materialize.BlockText, Text: prompt}},
	}}

	// Sub-agents cannot spawn their own subtasks.
	var nestedTools []tools.Tool
	for _, t := range a.AvailableTools {
		if t.Name() != subtaskToolName {
			nestedTools = append(nestedTools, t)
		}
	}

	var finalText string
	for round := 0; round < maxSubtaskRounds; round++ {
		reply, err := a.LLMClient.Chat(ctx, conversation, nestedTools)
		if err != nil {
			return "", errors.Wrapf(err, "subtask chat failed")
		}

		var assistantBlocks []materialize.Block
		if reply.Text != "" {
			finalText = reply.Text
			assistantBlocks = append(assistantBlocks, materialize.Block{
				Type: materialize.BlockText, Text: reply.Text,
			})
		}
		for _, tc := range reply.ToolCalls {
			assistantBlocks = append(assistantBlocks, materialize.Block{
				Type:       materialize.BlockToolCall,
				ToolCallID: tc.ToolCallID,
				ToolName:   tc.Name,
				Input:      tc.Args,
			})
		}
		if len(assistantBlocks) > 0 {
			conversation = append(conversation, materialize.Message{
				Role: materialize.RoleAssistant, Content: assistantBlocks,
			})
		}

		if len(reply.ToolCalls) == 0 {
			return finalText, nil
		}

		for _, tc := range reply.ToolCalls {
			conversation = append(conversation, a.runNestedCall(ctx, sessionID, messageID, tc))
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}
	}
	return "", errors.New("subtask exceeded %d tool rounds", maxSubtaskRounds)
}

func (a *Agent) runNestedCall(ctx context.Context, sessionID, messageID string, tc llm.ToolCall) materialize.Message {
	result := func(output *materialize.ToolOutput) materialize.Message {
		return materialize.Message{Role: materialize.RoleTool, Content: []materialize.Block{{
			Type:       materialize.BlockToolResult,
			ToolCallID: tc.ToolCallID,
			ToolName:   tc.Name,
			Output:     output,
		}}}
	}
	failure := func(message string) materialize.Message {
		return result(&materialize.ToolOutput{Type: materialize.OutputErrorText, Value: message})
	}

	tool, ok := findTool(a.AvailableTools, tc.Name)
	if !ok || tc.Name == subtaskToolName {
		return failure("unknown tool: " + tc.Name)
	}

	approved, err := a.approve(ctx, tool, sessionID, messageID, tc)
	if err != nil || !approved {
		return failure("rejected by user")
	}

	res, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		return failure(err.Error())
	}
	return result(&materialize.ToolOutput{Type: materialize.OutputText, Value: res.Output})
}

func (a *Agent) updateSubtaskPart(sessionID, messageID, partID, status, output string) error {
	return a.Store.UpdateSubtask(sessionID, messageID, partID, status, output)
}
