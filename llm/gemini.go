package llm

import (
	"context"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/materialize"
	"github.com/m4xw311/comclerk/tools"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	model *genai.GenerativeModel
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	model := client.GenerativeModel(modelName)

	return &GeminiLLMClient{
		model: model,
	}, nil
}

// Chat sends a chat request to the Gemini API.
func (g *GeminiLLMClient) Chat(ctx context.Context, messages []materialize.Message, availableTools []tools.Tool) (*Reply, error) {
	history := convertMessagesToGeminiContent(messages)
	if len(history) == 0 {
		return nil, errors.New("no messages to send to Gemini")
	}

	g.model.Tools = convertToolsToGeminiTools(availableTools)

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := g.model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}

	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts materialized messages to Gemini's.
// Gemini has no separate tool role; results travel as function
// response parts on a user-role content.
func convertMessagesToGeminiContent(messages []materialize.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case materialize.RoleAssistant:
			var parts []genai.Part
			for _, block := range msg.Content {
				switch block.Type {
				case materialize.BlockText:
					if block.Text != "" {
						parts = append(parts, genai.Text(block.Text))
					}
				case materialize.BlockToolCall:
					parts = append(parts, genai.FunctionCall{
						Name: block.ToolName,
						Args: block.Input,
					})
				}
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})

		case materialize.RoleTool:
			var parts []genai.Part
			for _, block := range msg.Content {
				if block.Type != materialize.BlockToolResult {
					continue
				}
				parts = append(parts, genai.FunctionResponse{
					Name: block.ToolName,
					Response: map[string]interface{}{
						"output": toolResultText(block),
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: parts})

		default:
			text := textOf(msg)
			if text == "" {
				continue
			}
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(text)},
			})
		}
	}
	return contents
}

// convertToolsToGeminiTools converts our Tool interface to Gemini's FunctionDeclaration format.
func convertToolsToGeminiTools(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration

	for _, tool := range ts {
		// We assume every tool takes a generic map of string-to-any arguments.
		fd := &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"args": {
						Type:        genai.TypeObject,
						Description: "Arguments for the function call, as a map.",
					},
				},
				Required: []string{"args"},
			},
		}
		funcDecls = append(funcDecls, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// processGeminiResponse converts a Gemini API response into a Reply.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*Reply, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	reply := &Reply{}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			reply.Text += string(v)
		case genai.FunctionCall:
			// Gemini does not issue call IDs; the function name keys
			// the result instead.
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				ToolCallID: v.Name,
				Name:       v.Name,
				Args:       v.Args,
			})
		}
	}
	return reply, nil
}
