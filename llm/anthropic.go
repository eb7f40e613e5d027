package llm

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/materialize"
	"github.com/m4xw311/comclerk/tools"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context, modelName string) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
	}, nil
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, messages []materialize.Message, availableTools []tools.Tool) (*Reply, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages:  convertMessagesToAnthropicMessages(messages),
	}

	anthropicTools := convertToolsToAnthropicTools(availableTools)
	params.Tools = make([]anthropic.ToolUnionParam, len(anthropicTools))
	for i, toolParam := range anthropicTools {
		params.Tools[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}

	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts materialized messages to Anthropic's format.
func convertMessagesToAnthropicMessages(messages []materialize.Message) []anthropic.MessageParam {
	var anthropicMessages []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case materialize.RoleUser:
			var contentItems []anthropic.ContentBlockParamUnion
			for _, block := range msg.Content {
				switch block.Type {
				case materialize.BlockText:
					contentItems = append(contentItems, anthropic.NewTextBlock(block.Text))
				case materialize.BlockFile:
					if img, ok := anthropicImageBlock(block); ok {
						contentItems = append(contentItems, img)
					} else {
						contentItems = append(contentItems, anthropic.NewTextBlock(
							"[attachment "+block.Filename+" ("+block.MediaType+")]"))
					}
				}
			}
			if len(contentItems) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: contentItems,
			})

		case materialize.RoleAssistant:
			var contentItems []anthropic.ContentBlockParamUnion
			for _, block := range msg.Content {
				switch block.Type {
				case materialize.BlockText:
					contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
						OfText: &anthropic.TextBlockParam{Text: block.Text},
					})
				case materialize.BlockToolCall:
					argsBytes, err := json.Marshal(block.Input)
					if err != nil {
						log.Printf("could not marshal tool call arguments for %s: %v, skipping", block.ToolName, err)
						continue
					}
					contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							Type:  "tool_use",
							ID:    block.ToolCallID,
							Name:  block.ToolName,
							Input: argsBytes,
						}})
				}
				// Reasoning traces are never replayed verbatim.
			}
			if len(contentItems) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: contentItems,
			})

		case materialize.RoleTool:
			for _, block := range msg.Content {
				if block.Type != materialize.BlockToolResult {
					continue
				}
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role: anthropic.MessageParamRoleUser,
					Content: []anthropic.ContentBlockParamUnion{{
						OfToolResult: &anthropic.ToolResultBlockParam{
							ToolUseID: block.ToolCallID,
							IsError:   anthropic.Bool(block.Output != nil && block.Output.Type == materialize.OutputErrorText),
							Content: []anthropic.ToolResultBlockParamContentUnion{{
								OfText: &anthropic.TextBlockParam{
									Text: toolResultText(block),
								},
							}},
						},
					}},
				})
			}
		}
	}

	return anthropicMessages
}

// anthropicImageBlock converts a data-URL image file block.
func anthropicImageBlock(block materialize.Block) (anthropic.ContentBlockParamUnion, bool) {
	if !strings.HasPrefix(block.MediaType, "image/") {
		return anthropic.ContentBlockParamUnion{}, false
	}
	_, data, found := strings.Cut(block.Data, ",")
	if !found || !strings.HasPrefix(block.Data, "data:") {
		return anthropic.ContentBlockParamUnion{}, false
	}
	return anthropic.NewImageBlockBase64(block.MediaType, data), true
}

// convertToolsToAnthropicTools converts our Tool interface to Anthropic's tool format.
func convertToolsToAnthropicTools(ts []tools.Tool) []anthropic.ToolParam {
	if len(ts) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolParam
	for _, t := range ts {
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{},
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic API response into a Reply.
func processAnthropicResponse(resp *anthropic.Message) (*Reply, error) {
	reply := &Reply{}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			reply.Text += c.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal(c.Input, &args); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				ToolCallID: c.ID,
				Name:       c.Name,
				Args:       args,
			})
		}
	}
	return reply, nil
}
