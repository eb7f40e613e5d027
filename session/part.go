package session

// Part type discriminators. Consumers switch on Part.Type and must
// ignore values they do not recognize so that newer servers can add
// part kinds without breaking older clients.
const (
	PartText       = "text"
	PartFile       = "file"
	PartReasoning  = "reasoning"
	PartTool       = "tool"
	PartStepStart  = "step-start"
	PartStepFinish = "step-finish"
	PartSubtask    = "subtask"
)

// Tool state statuses.
const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// Mime types that exist for display only and are never forwarded to a
// model.
const (
	MimeText      = "text/plain"
	MimeDirectory = "application/x-directory"
)

// ToolState tracks the lifecycle of one tool invocation.
type ToolState struct {
	Status      string                 `json:"status"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Output      string                 `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Attachments []Part                 `json:"attachments,omitempty"`
	Time        *PartTime              `json:"time,omitempty"`
}

// PartTime records start/end timestamps in unix milliseconds.
type PartTime struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// Part is one unit of message content. It is a tagged union over Type;
// only the fields belonging to the tagged variant are populated.
type Part struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
	Type      string `json:"type"`

	// text, reasoning
	Text string    `json:"text,omitempty"`
	Time *PartTime `json:"time,omitempty"`

	// file
	Mime     string `json:"mime,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`

	// tool
	Tool   string     `json:"tool,omitempty"`
	CallID string     `json:"callID,omitempty"`
	State  *ToolState `json:"state,omitempty"`

	// step-start / step-finish
	Kind string `json:"kind,omitempty"`

	// subtask
	Agent       string `json:"agent,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Output      string `json:"output,omitempty"`
}

// IsText returns true if this is a text part.
func (p *Part) IsText() bool { return p.Type == PartText }

// IsFile returns true if this is a file attachment part.
func (p *Part) IsFile() bool { return p.Type == PartFile }

// IsReasoning returns true if this is a reasoning part.
func (p *Part) IsReasoning() bool { return p.Type == PartReasoning }

// IsTool returns true if this is a tool invocation part.
func (p *Part) IsTool() bool { return p.Type == PartTool }

// IsStepMarker returns true for the structural step boundary parts.
func (p *Part) IsStepMarker() bool {
	return p.Type == PartStepStart || p.Type == PartStepFinish
}

// IsSubtask returns true if this is a nested agent run part.
func (p *Part) IsSubtask() bool { return p.Type == PartSubtask }

// DisplayOnly reports whether a file part exists for rendering only
// and must not be forwarded to the model.
func (p *Part) DisplayOnly() bool {
	return p.Type == PartFile && (p.Mime == MimeText || p.Mime == MimeDirectory)
}
