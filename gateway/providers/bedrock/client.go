//go:build bedrock
// +build bedrock

package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/gateway"
	"github.com/brainops/orchestrator/gateway/providers"
)

// Client implements gateway.Driver for AWS Bedrock.
type Client struct {
	*providers.BaseClient
	bedrockClient *bedrockruntime.Client
	region        string
}

// NewClient creates a new AWS Bedrock client.
func NewClient(cfg aws.Config, region string, logger core.Logger) *Client {
	bedrockClient := bedrockruntime.NewFromConfig(cfg)

	base := providers.NewBaseClient(30*time.Second, logger)
	base.DefaultModel = ModelClaude3Sonnet
	base.DefaultMaxTokens = 1000

	return &Client{
		BaseClient:    base,
		bedrockClient: bedrockClient,
		region:        region,
	}
}

// Generate produces a completion using AWS Bedrock's Converse API.
func (c *Client) Generate(ctx context.Context, prompt string, options *gateway.Options) (*gateway.Result, error) {
	ctx, span := c.StartSpan(ctx, "gateway.provider.generate")
	defer span.End()

	span.SetAttribute("ai.provider", "bedrock")
	span.SetAttribute("ai.prompt_length", len(prompt))

	options = c.ApplyDefaults(options)
	span.SetAttribute("ai.model", options.Model)

	c.LogRequest("bedrock", options.Model, prompt)
	startTime := time.Now()

	messages := []types.Message{
		{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{
					Value: prompt,
				},
			},
		},
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(options.Model),
		Messages: messages,
	}

	if options.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{
				Value: options.SystemPrompt,
			},
		}
	}

	inferenceConfig := &types.InferenceConfiguration{}
	configSet := false

	if options.MaxTokens > 0 {
		inferenceConfig.MaxTokens = aws.Int32(int32(options.MaxTokens))
		configSet = true
	}

	if options.Temperature > 0 {
		inferenceConfig.Temperature = aws.Float32(options.Temperature)
		configSet = true
	}

	if configSet {
		input.InferenceConfig = inferenceConfig
	}

	output, err := c.bedrockClient.Converse(ctx, input)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("bedrock converse error: %w", err)
	}

	if output.Output == nil {
		noOutputErr := fmt.Errorf("no output in Bedrock response")
		span.RecordError(noOutputErr)
		return nil, noOutputErr
	}

	var content string
	switch v := output.Output.(type) {
	case *types.ConverseOutputMemberMessage:
		for _, block := range v.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				content += b.Value
			}
		}
	default:
		unexpectedErr := fmt.Errorf("unexpected output type from Bedrock")
		span.RecordError(unexpectedErr)
		return nil, unexpectedErr
	}

	if content == "" {
		emptyErr := fmt.Errorf("no text content in Bedrock response")
		span.RecordError(emptyErr)
		return nil, emptyErr
	}

	result := &gateway.Result{
		Content: content,
		Model:   options.Model,
	}

	if output.Usage != nil {
		result.Usage = gateway.TokenUsage{
			PromptTokens:     int(*output.Usage.InputTokens),
			CompletionTokens: int(*output.Usage.OutputTokens),
			TotalTokens:      int(*output.Usage.TotalTokens),
		}
	}

	span.SetAttribute("ai.prompt_tokens", result.Usage.PromptTokens)
	span.SetAttribute("ai.completion_tokens", result.Usage.CompletionTokens)
	span.SetAttribute("ai.total_tokens", result.Usage.TotalTokens)
	span.SetAttribute("ai.response_length", len(result.Content))

	c.LogResponse(ctx, "bedrock", result.Model, result.Usage, time.Since(startTime))
	c.LogResponseContent("bedrock", result.Model, result.Content)

	return result, nil
}

// InvokeModel provides direct access to specific model APIs (for advanced use cases).
// This bypasses the Converse API and uses model-specific formats.
func (c *Client) InvokeModel(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	}

	output, err := c.bedrockClient.InvokeModel(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke model error: %w", err)
	}

	return output.Body, nil
}

// GetEmbeddings generates embeddings using the Amazon Titan Embed model.
func (c *Client) GetEmbeddings(ctx context.Context, text string) ([]float32, error) {
	request := map[string]interface{}{
		"inputText": text,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	responseBody, err := c.InvokeModel(ctx, ModelTitanEmbed, body)
	if err != nil {
		return nil, err
	}

	var response struct {
		Embedding []float32 `json:"embedding"`
	}

	if err := json.Unmarshal(responseBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}

	return response.Embedding, nil
}

// CreateAWSConfig creates an AWS configuration for Bedrock.
// Supports IAM role, environment credentials, shared profile, or explicit
// credentials passed in.
func CreateAWSConfig(ctx context.Context, region string, credentials ...aws.CredentialsProvider) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if len(credentials) > 0 && credentials[0] != nil {
		opts = append(opts, config.WithCredentialsProvider(credentials[0]))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return cfg, nil
}
