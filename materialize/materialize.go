package materialize

import (
	"fmt"

	"github.com/m4xw311/comclerk/session"
)

// Materialize converts the full ordered conversation into request
// messages. It is deterministic and side-effect free: the same input
// always produces the same output. Malformed or unrecognized parts are
// skipped rather than surfaced as errors, so a newer server can store
// part kinds this code does not know about.
func Materialize(msgs []session.MessageWithParts) []Message {
	var out []Message
	for _, m := range msgs {
		switch m.Info.Role {
		case session.RoleUser:
			if um := userMessage(m.Parts); um != nil {
				out = append(out, *um)
			}
		case session.RoleAssistant:
			out = append(out, assistantMessages(m.Parts)...)
		}
	}
	return out
}

func userMessage(parts []session.Part) *Message {
	var content []Block
	for i := range parts {
		p := &parts[i]
		switch p.Type {
		case session.PartText:
			content = append(content, Block{Type: BlockText, Text: p.Text})
		case session.PartFile:
			if p.DisplayOnly() {
				continue
			}
			content = append(content, fileBlock(p))
		}
	}
	if len(content) == 0 {
		return nil
	}
	return &Message{Role: RoleUser, Content: content}
}

// assistantMessages decomposes one stored assistant message. A tool
// invocation expands into up to three output messages: a synthetic
// user message carrying any attachments the tool returned, a tool-call
// block on the assistant message, and a tool-role result message. The
// relative order is attachments, then assistant, then results.
func assistantMessages(parts []session.Part) []Message {
	var pre []Message
	var content []Block
	var post []Message

	for i := range parts {
		p := &parts[i]
		switch p.Type {
		case session.PartText:
			content = append(content, Block{Type: BlockText, Text: p.Text})
		case session.PartReasoning:
			if p.Text == "" {
				continue
			}
			content = append(content, Block{Type: BlockReasoning, Text: p.Text})
		case session.PartTool:
			if p.State == nil {
				continue
			}
			switch p.State.Status {
			case session.ToolCompleted:
				if um := attachmentMessage(p); um != nil {
					pre = append(pre, *um)
				}
				content = append(content, toolCallBlock(p))
				post = append(post, toolResultMessage(p, ToolOutput{
					Type:  OutputText,
					Value: p.State.Output,
				}))
			case session.ToolError:
				content = append(content, toolCallBlock(p))
				post = append(post, toolResultMessage(p, ToolOutput{
					Type:  OutputErrorText,
					Value: p.State.Error,
				}))
			}
			// Pending and running invocations have nothing replayable
			// yet and are omitted.
		}
	}

	out := pre
	if len(content) > 0 {
		out = append(out, Message{Role: RoleAssistant, Content: content})
	}
	out = append(out, post...)
	return out
}

// attachmentMessage re-injects files a tool returned as a user turn,
// since tool results cannot carry file payloads on most APIs. Returns
// nil when no forwardable attachment exists.
func attachmentMessage(p *session.Part) *Message {
	var files []Block
	for i := range p.State.Attachments {
		a := &p.State.Attachments[i]
		if a.Type != session.PartFile || a.DisplayOnly() {
			continue
		}
		files = append(files, fileBlock(a))
	}
	if len(files) == 0 {
		return nil
	}
	content := []Block{{
		Type: BlockText,
		Text: fmt.Sprintf("Tool %s returned an attachment:", p.Tool),
	}}
	content = append(content, files...)
	return &Message{Role: RoleUser, Content: content}
}

func toolCallBlock(p *session.Part) Block {
	return Block{
		Type:       BlockToolCall,
		ToolCallID: p.CallID,
		ToolName:   p.Tool,
		Input:      p.State.Input,
	}
}

func toolResultMessage(p *session.Part, output ToolOutput) Message {
	return Message{
		Role: RoleTool,
		Content: []Block{{
			Type:       BlockToolResult,
			ToolCallID: p.CallID,
			ToolName:   p.Tool,
			Output:     &output,
		}},
	}
}

func fileBlock(p *session.Part) Block {
	return Block{
		Type:      BlockFile,
		MediaType: p.Mime,
		Data:      p.URL,
		Filename:  p.Filename,
	}
}
