package materialize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/comclerk/session"
)

func userMsg(parts ...session.Part) session.MessageWithParts {
	return session.MessageWithParts{
		Info:  session.MessageInfo{ID: session.NewMessageID(), Role: session.RoleUser},
		Parts: parts,
	}
}

func assistantMsg(parts ...session.Part) session.MessageWithParts {
	return session.MessageWithParts{
		Info:  session.MessageInfo{ID: session.NewMessageID(), Role: session.RoleAssistant},
		Parts: parts,
	}
}

func textPart(text string) session.Part {
	return session.Part{ID: session.NewPartID(), Type: session.PartText, Text: text}
}

func TestBasicUserMessage(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		userMsg(textPart("Hello world")),
	})

	require.Len(t, out, 1)
	require.Equal(t, RoleUser, out[0].Role)
	require.Len(t, out[0].Content, 1)
	require.Equal(t, BlockText, out[0].Content[0].Type)
	require.Equal(t, "Hello world", out[0].Content[0].Text)
}

func TestToolResultWithAttachments(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		assistantMsg(session.Part{
			ID:     session.NewPartID(),
			Type:   session.PartTool,
			Tool:   "read",
			CallID: "call_123",
			State: &session.ToolState{
				Status: session.ToolCompleted,
				Input:  map[string]interface{}{"filePath": "test.png"},
				Output: "Image read successfully",
				Title:  "test.png",
				Attachments: []session.Part{{
					ID:       session.NewPartID(),
					Type:     session.PartFile,
					Mime:     "image/png",
					URL:      "data:image/png;base64,iVBORw0KGg==",
					Filename: "test.png",
				}},
			},
		}),
	})

	// Attachment user message, then assistant tool-call, then result.
	require.Len(t, out, 3)

	require.Equal(t, RoleUser, out[0].Role)
	require.Equal(t, BlockText, out[0].Content[0].Type)
	require.Contains(t, out[0].Content[0].Text, "Tool read returned an attachment")
	require.Equal(t, BlockFile, out[0].Content[1].Type)
	require.Equal(t, "image/png", out[0].Content[1].MediaType)
	require.Equal(t, "data:image/png;base64,iVBORw0KGg==", out[0].Content[1].Data)

	require.Equal(t, RoleAssistant, out[1].Role)
	require.Equal(t, BlockToolCall, out[1].Content[0].Type)
	require.Equal(t, "read", out[1].Content[0].ToolName)
	require.Equal(t, "call_123", out[1].Content[0].ToolCallID)

	require.Equal(t, RoleTool, out[2].Role)
	require.Equal(t, BlockToolResult, out[2].Content[0].Type)
	require.Equal(t, "call_123", out[2].Content[0].ToolCallID)
	require.Equal(t, OutputText, out[2].Content[0].Output.Type)
	require.Equal(t, "Image read successfully", out[2].Content[0].Output.Value)
}

func TestFiltersPlainTextFileParts(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		userMsg(
			textPart("Before"),
			session.Part{
				ID:       session.NewPartID(),
				Type:     session.PartFile,
				Mime:     "text/plain",
				URL:      "data:text/plain;base64,SGVsbG8=",
				Filename: "text.txt",
			},
			textPart("After"),
		),
	})

	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 2)
	require.Equal(t, "Before", out[0].Content[0].Text)
	require.Equal(t, "After", out[0].Content[1].Text)
}

func TestFiltersDirectoryFileParts(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		userMsg(
			textPart("Check this"),
			session.Part{
				ID:       session.NewPartID(),
				Type:     session.PartFile,
				Mime:     "application/x-directory",
				URL:      "file:///test/dir",
				Filename: "dir",
			},
			textPart("Done"),
		),
	})

	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 2)
	require.Equal(t, "Check this", out[0].Content[0].Text)
	require.Equal(t, "Done", out[0].Content[1].Text)
}

func TestMultipleMessagesKeepOrder(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		userMsg(textPart("First message")),
		userMsg(textPart("Second message")),
	})

	require.Len(t, out, 2)
	require.Equal(t, "First message", out[0].Content[0].Text)
	require.Equal(t, "Second message", out[1].Content[0].Text)
}

func TestSkipsMessagesWithNoParts(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		userMsg(),
		userMsg(textPart("Has content")),
	})

	require.Len(t, out, 1)
	require.Equal(t, "Has content", out[0].Content[0].Text)
}

func TestAssistantReasoningKeepsPartOrder(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		assistantMsg(
			session.Part{ID: session.NewPartID(), Type: session.PartReasoning, Text: "Let me think about this..."},
			textPart("The answer is 42"),
		),
	})

	require.Len(t, out, 1)
	require.Equal(t, RoleAssistant, out[0].Role)
	require.Len(t, out[0].Content, 2)
	require.Equal(t, BlockReasoning, out[0].Content[0].Type)
	require.Equal(t, "Let me think about this...", out[0].Content[0].Text)
	require.Equal(t, BlockText, out[0].Content[1].Type)
	require.Equal(t, "The answer is 42", out[0].Content[1].Text)
}

func TestToolErrorState(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		assistantMsg(session.Part{
			ID:     session.NewPartID(),
			Type:   session.PartTool,
			Tool:   "bash",
			CallID: "call_123",
			State: &session.ToolState{
				Status: session.ToolError,
				Input:  map[string]interface{}{"command": "rm -rf /"},
				Error:  "Permission denied",
			},
		}),
	})

	require.Len(t, out, 2)

	require.Equal(t, RoleAssistant, out[0].Role)
	require.Equal(t, BlockToolCall, out[0].Content[0].Type)
	require.Equal(t, "bash", out[0].Content[0].ToolName)

	require.Equal(t, RoleTool, out[1].Role)
	require.Equal(t, BlockToolResult, out[1].Content[0].Type)
	require.Equal(t, OutputErrorText, out[1].Content[0].Output.Type)
	require.Equal(t, "Permission denied", out[1].Content[0].Output.Value)
}

func TestCompletedToolWithEmptyOutput(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		assistantMsg(session.Part{
			ID:     session.NewPartID(),
			Type:   session.PartTool,
			Tool:   "write",
			CallID: "call_9",
			State:  &session.ToolState{Status: session.ToolCompleted},
		}),
	})

	// An empty output is still a result; the call happened.
	require.Len(t, out, 2)
	require.Equal(t, RoleTool, out[1].Role)
	require.Equal(t, OutputText, out[1].Content[0].Output.Type)
	require.Equal(t, "", out[1].Content[0].Output.Value)
}

func TestPendingAndRunningToolsOmitted(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		assistantMsg(
			session.Part{
				ID: session.NewPartID(), Type: session.PartTool, Tool: "bash", CallID: "c1",
				State: &session.ToolState{Status: session.ToolPending},
			},
			session.Part{
				ID: session.NewPartID(), Type: session.PartTool, Tool: "read", CallID: "c2",
				State: &session.ToolState{Status: session.ToolRunning},
			},
		),
	})

	require.Empty(t, out)
}

func TestStepMarkersAndSubtasksDropped(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		assistantMsg(
			session.Part{ID: session.NewPartID(), Type: session.PartStepStart},
			textPart("visible"),
			session.Part{ID: session.NewPartID(), Type: session.PartSubtask, Agent: "explore", Prompt: "look around"},
			session.Part{ID: session.NewPartID(), Type: session.PartStepFinish},
		),
	})

	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 1)
	require.Equal(t, "visible", out[0].Content[0].Text)
}

func TestEmptyReasoningDropped(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		assistantMsg(
			session.Part{ID: session.NewPartID(), Type: session.PartReasoning, Text: ""},
			textPart("answer"),
		),
	})

	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 1)
}

func TestUnknownPartTypesSkipped(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		userMsg(
			session.Part{ID: session.NewPartID(), Type: "hologram", Text: "from the future"},
			textPart("still works"),
		),
	})

	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 1)
	require.Equal(t, "still works", out[0].Content[0].Text)
}

func TestMaterializeIsPure(t *testing.T) {
	msgs := []session.MessageWithParts{
		userMsg(textPart("question")),
		assistantMsg(
			session.Part{ID: session.NewPartID(), Type: session.PartReasoning, Text: "hmm"},
			session.Part{
				ID: session.NewPartID(), Type: session.PartTool, Tool: "read", CallID: "c1",
				State: &session.ToolState{
					Status: session.ToolCompleted,
					Output: "ok",
					Attachments: []session.Part{{
						ID: session.NewPartID(), Type: session.PartFile,
						Mime: "image/png", URL: "data:image/png;base64,AA==",
					}},
				},
			},
			textPart("done"),
		),
	}

	first := Materialize(msgs)
	second := Materialize(msgs)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("materialization is not deterministic (-first +second):\n%s", diff)
	}
}

func TestMultipleToolsExpandIndependently(t *testing.T) {
	out := Materialize([]session.MessageWithParts{
		assistantMsg(
			session.Part{
				ID: session.NewPartID(), Type: session.PartTool, Tool: "read", CallID: "c1",
				State: &session.ToolState{Status: session.ToolCompleted, Output: "one"},
			},
			session.Part{
				ID: session.NewPartID(), Type: session.PartTool, Tool: "bash", CallID: "c2",
				State: &session.ToolState{Status: session.ToolError, Error: "boom"},
			},
		),
	})

	require.Len(t, out, 3)
	require.Equal(t, RoleAssistant, out[0].Role)
	require.Len(t, out[0].Content, 2)
	require.Equal(t, "c1", out[0].Content[0].ToolCallID)
	require.Equal(t, "c2", out[0].Content[1].ToolCallID)

	require.Equal(t, RoleTool, out[1].Role)
	require.Equal(t, "c1", out[1].Content[0].ToolCallID)
	require.Equal(t, OutputText, out[1].Content[0].Output.Type)

	require.Equal(t, RoleTool, out[2].Role)
	require.Equal(t, "c2", out[2].Content[0].ToolCallID)
	require.Equal(t, OutputErrorText, out[2].Content[0].Output.Type)
}
