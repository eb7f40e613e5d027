// Package agent runs assistant turns: it materializes the stored
// conversation, chats with the model, executes requested tools behind
// the approval gate, and records every step back into the store as
// parts so clients can follow along live.
package agent

import (
	"context"
	"log"

	"github.com/m4xw311/comclerk/config"
	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/llm"
	"github.com/m4xw311/comclerk/materialize"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
	"github.com/m4xw311/comclerk/tools"
)

// maxToolRounds bounds a single turn so a misbehaving model cannot
// loop forever between chat and tool execution.
const maxToolRounds = 25

type Agent struct {
	Config         *config.Config
	Store          session.Store
	Perms          *permission.MemStore
	LLMClient      llm.LLMClient
	AvailableTools []tools.Tool

	registry *tools.ToolRegistry
}

func New(cfg *config.Config, store session.Store, perms *permission.MemStore, toolset string, client llm.LLMClient) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}

	registry := tools.NewToolRegistry(cfg)
	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		registry.Stop()
		return nil, err
	}

	return &Agent{
		Config:         cfg,
		Store:          store,
		Perms:          perms,
		LLMClient:      client,
		AvailableTools: append(activeTools, &subtaskTool{}),
		registry:       registry,
	}, nil
}

// Close stops any tool backends the agent started.
func (a *Agent) Close() {
	if a.registry != nil {
		a.registry.Stop()
	}
}

// Run executes one assistant turn. The user prompt is expected to be
// stored already; Run appends the assistant message and finishes it
// even when the turn fails, so the activity signal always settles.
func (a *Agent) Run(ctx context.Context, sessionID string) error {
	msg, err := a.Store.AppendMessage(sessionID, session.MessageInfo{Role: session.RoleAssistant}, []session.Part{
		{Type: session.PartStepStart, Kind: "turn"},
	})
	if err != nil {
		return errors.Wrapf(err, "starting assistant message")
	}
	messageID := msg.Info.ID

	turnErr := a.runTurn(ctx, sessionID, messageID)
	if turnErr != nil && ctx.Err() == nil {
		// Record the failure where the user can see it.
		if _, err := a.Store.AppendPart(sessionID, messageID, session.Part{
			Type: session.PartText,
			Text: "The turn failed: " + turnErr.Error(),
		}); err != nil {
			log.Printf("recording turn failure for %s: %v", sessionID, err)
		}
	}

	if _, err := a.Store.AppendPart(sessionID, messageID, session.Part{
		Type: session.PartStepFinish, Kind: "turn",
	}); err != nil {
		log.Printf("appending step finish for %s: %v", sessionID, err)
	}
	if err := a.Store.FinishMessage(sessionID, messageID); err != nil {
		log.Printf("finishing message for %s: %v", sessionID, err)
	}
	return turnErr
}

func (a *Agent) runTurn(ctx context.Context, sessionID, messageID string) error {
	for round := 0; round < maxToolRounds; round++ {
		msgs, err := a.Store.ListMessages(sessionID)
		if err != nil {
			return errors.Wrapf(err, "loading conversation")
		}

		reply, err := a.LLMClient.Chat(ctx, materialize.Materialize(msgs), a.AvailableTools)
		if err != nil {
			return errors.Wrapf(err, "LLM chat failed")
		}

		if reply.Text != "" {
			if _, err := a.Store.AppendPart(sessionID, messageID, session.Part{
				Type: session.PartText,
				Text: reply.Text,
			}); err != nil {
				return errors.Wrapf(err, "recording assistant text")
			}
		}

		if len(reply.ToolCalls) == 0 {
			return nil
		}

		for _, call := range reply.ToolCalls {
			if err := a.executeCall(ctx, sessionID, messageID, call); err != nil {
				return err
			}
		}
	}
	return errors.New("turn exceeded %d tool rounds", maxToolRounds)
}

// executeCall drives one tool part through pending, running and its
// terminal state. Denials and tool failures land in the part's error
// state rather than aborting the turn; the model sees them as
// error-text results on the next round.
func (a *Agent) executeCall(ctx context.Context, sessionID, messageID string, call llm.ToolCall) error {
	if call.Name == subtaskToolName {
		return a.runSubtask(ctx, sessionID, messageID, call)
	}

	part, err := a.Store.AppendPart(sessionID, messageID, session.Part{
		Type:   session.PartTool,
		Tool:   call.Name,
		CallID: call.ToolCallID,
		State: &session.ToolState{
			Status: session.ToolPending,
			Input:  call.Args,
			Time:   &session.PartTime{Start: session.NowMillis()},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "recording tool call %s", call.Name)
	}

	fail := func(message string) error {
		return a.Store.UpdateToolState(sessionID, messageID, part.ID, session.ToolState{
			Status: session.ToolError,
			Input:  call.Args,
			Error:  message,
			Time:   &session.PartTime{Start: part.State.Time.Start, End: session.NowMillis()},
		})
	}

	tool, ok := findTool(a.AvailableTools, call.Name)
	if !ok {
		return fail("unknown tool: " + call.Name)
	}

	approved, err := a.approve(ctx, tool, sessionID, messageID, call)
	if err != nil {
		return err
	}
	if !approved {
		return fail("rejected by user")
	}

	if err := a.Store.UpdateToolState(sessionID, messageID, part.ID, session.ToolState{
		Status: session.ToolRunning,
		Input:  call.Args,
		Time:   part.State.Time,
	}); err != nil {
		return errors.Wrapf(err, "marking tool %s running", call.Name)
	}

	result, err := tool.Execute(ctx, call.Args)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fail(err.Error())
	}

	return a.Store.UpdateToolState(sessionID, messageID, part.ID, session.ToolState{
		Status:      session.ToolCompleted,
		Input:       call.Args,
		Output:      result.Output,
		Attachments: result.Attachments,
		Time:        &session.PartTime{Start: part.State.Time.Start, End: session.NowMillis()},
	})
}

// approve consults the tool's permission descriptor and, unless the
// configuration auto-approves, blocks on the human gate.
func (a *Agent) approve(ctx context.Context, tool tools.Tool, sessionID, messageID string, call llm.ToolCall) (bool, error) {
	req := tool.Permission(call.Args)
	if req == nil || a.Config.Approvals.Mode == "auto" || a.Perms == nil {
		return true, nil
	}
	req.SessionID = sessionID
	req.MessageID = messageID
	req.CallID = call.ToolCallID

	approved, err := a.Perms.Ask(ctx, *req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, errors.Wrapf(err, "asking approval for %s", tool.Name())
	}
	return approved, nil
}

func findTool(available []tools.Tool, name string) (tools.Tool, bool) {
	for _, t := range available {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}
