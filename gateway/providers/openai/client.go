package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/gateway"
	"github.com/brainops/orchestrator/gateway/providers"
)

// Client implements gateway.Driver for OpenAI and OpenAI-compatible services.
type Client struct {
	*providers.BaseClient
	apiKey                   string
	baseURL                  string
	providerAlias            string // for request-time alias resolution (e.g., "openai.groq")
	ReasoningTokenMultiplier int    // token multiplier for reasoning models (0 = use default)
}

// NewClient creates a new OpenAI client with configuration.
func NewClient(apiKey, baseURL, providerAlias string, logger core.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	base := providers.NewBaseClient(180*time.Second, logger) // reasoning models can run long
	// Use "default" alias so ResolveModel() is always called, enabling env var overrides.
	base.DefaultModel = "default"

	return &Client{
		BaseClient:    base,
		apiKey:        apiKey,
		baseURL:       baseURL,
		providerAlias: providerAlias,
	}
}

// Generate produces a completion from OpenAI's chat completions endpoint.
func (c *Client) Generate(ctx context.Context, prompt string, options *gateway.Options) (*gateway.Result, error) {
	ctx, span := c.StartSpan(ctx, "gateway.provider.generate")
	defer span.End()

	span.SetAttribute("ai.provider", "openai")
	span.SetAttribute("ai.prompt_length", len(prompt))

	if c.apiKey == "" {
		c.Logger.ErrorWithContext(ctx, "OpenAI request failed - API key not configured", map[string]interface{}{
			"operation": "provider_request_error",
			"provider":  "openai",
			"error":     "api_key_missing",
		})
		span.RecordError(fmt.Errorf("API key not configured"))
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	options = c.ApplyDefaults(options)
	options.Model = ResolveModel(c.providerAlias, options.Model)
	span.SetAttribute("ai.model", options.Model)

	c.LogRequest("openai", options.Model, prompt)
	startTime := time.Now()

	messages := []map[string]string{}
	if options.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": options.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	reqBody := buildRequestBody(options.Model, messages, options.MaxTokens, options.Temperature, false, c.ReasoningTokenMultiplier)

	if IsReasoningModel(options.Model) {
		multiplier := c.ReasoningTokenMultiplier
		if multiplier <= 0 {
			multiplier = DefaultReasoningTokenMultiplier
		}
		c.Logger.DebugWithContext(ctx, "using reasoning model parameters", map[string]interface{}{
			"operation":                   "provider_request_params",
			"provider":                    "openai",
			"model":                       options.Model,
			"using_max_completion_tokens": true,
			"temperature_omitted":         true,
			"token_multiplier":            multiplier,
		})
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.ExecuteWithRetry(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := c.HandleError(resp.StatusCode, body, "OpenAI")
		span.RecordError(apiErr)
		span.SetAttribute("http.status_code", resp.StatusCode)
		return nil, apiErr
	}

	var openAIResp OpenAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openAIResp.Choices) == 0 {
		emptyErr := fmt.Errorf("no response from OpenAI")
		span.RecordError(emptyErr)
		return nil, emptyErr
	}

	// Reasoning models (o1, o3, o4, GPT-5) may return content via a
	// reasoning_content field when Content is empty.
	responseContent := openAIResp.Choices[0].Message.Content
	if responseContent == "" && openAIResp.Choices[0].Message.ReasoningContent != "" {
		responseContent = openAIResp.Choices[0].Message.ReasoningContent
	}

	result := &gateway.Result{
		Content: responseContent,
		Model:   openAIResp.Model,
		Usage: gateway.TokenUsage{
			PromptTokens:     openAIResp.Usage.PromptTokens,
			CompletionTokens: openAIResp.Usage.CompletionTokens,
			TotalTokens:      openAIResp.Usage.TotalTokens,
		},
	}

	span.SetAttribute("ai.prompt_tokens", result.Usage.PromptTokens)
	span.SetAttribute("ai.completion_tokens", result.Usage.CompletionTokens)
	span.SetAttribute("ai.total_tokens", result.Usage.TotalTokens)
	span.SetAttribute("ai.response_length", len(result.Content))

	c.LogResponse(ctx, "openai", result.Model, result.Usage, time.Since(startTime))
	c.LogResponseContent("openai", result.Model, result.Content)

	return result, nil
}
