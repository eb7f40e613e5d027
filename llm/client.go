package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/comclerk/materialize"
	"github.com/m4xw311/comclerk/tools"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ToolCallID string
	Name       string
	Args       map[string]interface{}
}

// Reply is one assistant response. ToolCalls being non-empty means the
// turn is not finished; the caller executes them and chats again.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// LLMClient is the interface for interacting with a Large Language Model.
// Messages arrive already materialized; each provider converts them to
// its own wire format.
type LLMClient interface {
	Chat(ctx context.Context, messages []materialize.Message, availableTools []tools.Tool) (*Reply, error)
}

// textOf concatenates a message's text blocks, the lowest common
// denominator for providers without multi-part content.
func textOf(msg materialize.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case materialize.BlockText:
			b.WriteString(block.Text)
		case materialize.BlockFile:
			fmt.Fprintf(&b, "[attachment %s (%s)]", block.Filename, block.MediaType)
		}
	}
	return b.String()
}

// toolResultText extracts the payload of a tool-result message,
// prefixing errors so the model sees the failure.
func toolResultText(block materialize.Block) string {
	if block.Output == nil {
		return ""
	}
	if block.Output.Type == materialize.OutputErrorText {
		return "Error: " + block.Output.Value
	}
	return block.Output.Value
}

// MockLLMClient is a scripted client for tests and offline runs. Each
// Chat call pops the next reply; when the script runs out it parrots
// the last user message.
type MockLLMClient struct {
	Replies []Reply
	Calls   [][]materialize.Message
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []materialize.Message, availableTools []tools.Tool) (*Reply, error) {
	m.Calls = append(m.Calls, messages)
	if len(m.Replies) > 0 {
		next := m.Replies[0]
		m.Replies = m.Replies[1:]
		return &next, nil
	}

	last := ""
	for _, msg := range messages {
		if msg.Role == materialize.RoleUser {
			last = textOf(msg)
		}
	}
	return &Reply{Text: fmt.Sprintf("I am a mock LLM. You said: '%s'.", last)}, nil
}
