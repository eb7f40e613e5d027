package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/materialize"
	"github.com/m4xw311/comclerk/tools"
)

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client   *bedrockruntime.Client
	modelID  string
	region   string
	endpoint string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	client := bedrockruntime.NewFromConfig(cfg)

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1" // Default region
	}

	// Custom endpoint is useful for testing.
	endpoint := os.Getenv("BEDROCK_ENDPOINT_URL")

	return &BedrockLLMClient{
		client:   client,
		modelID:  modelID,
		region:   region,
		endpoint: endpoint,
	}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, messages []materialize.Message, availableTools []tools.Tool) (*Reply, error) {
	requestBody, err := createAnthropicRequest(convertMessagesToBedrockFormat(messages), availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	return processBedrockResponse(resp.Body)
}

// convertMessagesToBedrockFormat converts materialized messages to the
// Anthropic wire shape Bedrock expects.
func convertMessagesToBedrockFormat(messages []materialize.Message) []map[string]interface{} {
	var anthropicMessages []map[string]interface{}

	for _, msg := range messages {
		switch msg.Role {
		case materialize.RoleUser:
			anthropicMessages = append(anthropicMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": textOf(msg),
					},
				},
			})

		case materialize.RoleAssistant:
			var content []map[string]interface{}
			for _, block := range msg.Content {
				switch block.Type {
				case materialize.BlockText:
					if block.Text != "" {
						content = append(content, map[string]interface{}{
							"type": "text",
							"text": block.Text,
						})
					}
				case materialize.BlockToolCall:
					input := block.Input
					if input == nil {
						input = map[string]interface{}{}
					}
					content = append(content, map[string]interface{}{
						"type":  "tool_use",
						"id":    block.ToolCallID,
						"name":  block.ToolName,
						"input": input,
					})
				}
			}
			if len(content) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, map[string]interface{}{
				"role":    "assistant",
				"content": content,
			})

		case materialize.RoleTool:
			for _, block := range msg.Content {
				if block.Type != materialize.BlockToolResult {
					continue
				}
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role": "user",
					"content": []map[string]interface{}{
						{
							"type":        "tool_result",
							"tool_use_id": block.ToolCallID,
							"content":     toolResultText(block),
							"is_error":    block.Output != nil && block.Output.Type == materialize.OutputErrorText,
						},
					},
				})
			}
		}
	}

	return anthropicMessages
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(messages []map[string]interface{}, availableTools []tools.Tool) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          messages,
	}

	if len(availableTools) > 0 {
		var toolDefs []map[string]interface{}
		for _, tool := range availableTools {
			toolDefs = append(toolDefs, map[string]interface{}{
				"name":        tool.Name(),
				"description": tool.Description(),
				"input_schema": map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			})
		}
		request["tools"] = toolDefs
	}

	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into a Reply.
func processBedrockResponse(body []byte) (*Reply, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}

	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	reply := &Reply{}
	contentArray, ok := response["content"].([]interface{})
	if !ok {
		return reply, nil
	}

	for _, item := range contentArray {
		block, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if text, ok := block["text"].(string); ok {
				reply.Text += text
			}
		case "tool_use":
			call := ToolCall{}
			call.ToolCallID, _ = block["id"].(string)
			call.Name, _ = block["name"].(string)
			if args, ok := block["input"].(map[string]interface{}); ok {
				call.Args = args
			}
			reply.ToolCalls = append(reply.ToolCalls, call)
		}
	}
	return reply, nil
}
