package llm

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/materialize"
	"github.com/m4xw311/comclerk/tools"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, modelName string) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	return &OpenAILLMClient{client: &c, model: modelName}, nil
}

// Chat sends a chat request to OpenAI and converts the response into a Reply.
func (o *OpenAILLMClient) Chat(ctx context.Context, messages []materialize.Message, availableTools []tools.Tool) (*Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenaiContent(messages),
		Tools:    convertToolsToOpenAITools(availableTools),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}

	return processOpenaiResponse(resp)
}

// processOpenaiResponse converts an OpenAI API response into a Reply.
func processOpenaiResponse(resp *openai.ChatCompletion) (*Reply, error) {
	if len(resp.Choices) == 0 {
		return &Reply{}, nil
	}

	choice := resp.Choices[0].Message
	reply := &Reply{Text: choice.Content}

	for _, tc := range choice.ToolCalls {
		var toolArgs map[string]interface{}
		// Arguments are a JSON string; we expect it to be a flat map of arguments.
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &toolArgs); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
		}
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
			Args:       toolArgs,
		})
	}
	return reply, nil
}

// convertMessagesToOpenaiContent converts materialized messages to OpenAI's.
func convertMessagesToOpenaiContent(messages []materialize.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case materialize.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role: "assistant",
			}
			var toolCalls []openai.ChatCompletionMessageToolCallUnion
			for _, block := range msg.Content {
				switch block.Type {
				case materialize.BlockText:
					assistantMessage.Content += block.Text
				case materialize.BlockToolCall:
					argsBytes, err := json.Marshal(block.Input)
					if err != nil {
						log.Printf("could not marshal tool call arguments for %s: %v, skipping", block.ToolName, err)
						continue
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnion{
						ID:   block.ToolCallID,
						Type: "function",
						Function: openai.ChatCompletionMessageFunctionToolCallFunction{
							Name:      block.ToolName,
							Arguments: string(argsBytes),
						},
					})
				}
			}
			if len(toolCalls) > 0 {
				assistantMessage.ToolCalls = toolCalls
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())

		case materialize.RoleTool:
			for _, block := range msg.Content {
				if block.Type != materialize.BlockToolResult {
					continue
				}
				chatMessages = append(chatMessages, openai.ToolMessage(toolResultText(block), block.ToolCallID))
			}

		case materialize.RoleUser:
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(textOf(msg)))
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts our Tool interface to the OpenAI Tool format.
func convertToolsToOpenAITools(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		// Unlike Gemini, OpenAI models work better when the parameters are not nested.
		// We define a generic object schema and let the model infer the arguments.
		params := openai.FunctionParameters{
			"type":       "object",
			"properties": map[string]any{},
		}

		toolParam := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  params,
		})
		openAITools = append(openAITools, toolParam)
	}
	return openAITools
}
