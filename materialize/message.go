// Package materialize projects a stored conversation into the linear,
// role-tagged message sequence a stateless completion API consumes.
// The projection is a pure function of its input. Provider packages
// translate the result into their own wire formats.
package materialize

// Roles of materialized messages. "tool" carries tool results back to
// the model and has no counterpart in the stored conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Content block types.
const (
	BlockText       = "text"
	BlockReasoning  = "reasoning"
	BlockFile       = "file"
	BlockToolCall   = "tool-call"
	BlockToolResult = "tool-result"
)

// Tool output payload types.
const (
	OutputText      = "text"
	OutputErrorText = "error-text"
)

// ToolOutput is the payload of a tool-result block. Value holds the
// raw output for OutputText and the error message for OutputErrorText.
type ToolOutput struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Block is one typed content unit inside a materialized message.
type Block struct {
	Type string `json:"type"`

	// text, reasoning
	Text string `json:"text,omitempty"`

	// file
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"`
	Filename  string `json:"filename,omitempty"`

	// tool-call, tool-result
	ToolCallID string                 `json:"toolCallId,omitempty"`
	ToolName   string                 `json:"toolName,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     *ToolOutput            `json:"output,omitempty"`
}

// Message is one role-tagged request message.
type Message struct {
	Role    string  `json:"role"`
	Content []Block `json:"content"`
}
