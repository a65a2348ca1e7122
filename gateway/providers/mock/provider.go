// Package mock provides a mock AI provider for testing.
package mock

import (
	"context"
	"errors"
	"fmt"

	"github.com/brainops/orchestrator/gateway"
)

func init() {
	// Always registered; DetectEnvironment never reports it available, so
	// mock is not auto-detected in production.
	if err := gateway.Register(&Factory{}); err != nil {
		panic(fmt.Sprintf("failed to register mock provider: %v", err))
	}
}

// Factory creates mock driver instances for testing.
type Factory struct{}

// Name returns the provider name.
func (f *Factory) Name() string {
	return "mock"
}

// Description returns provider description.
func (f *Factory) Description() string {
	return "Mock provider for testing"
}

// Priority returns the provider's relative auto-detection priority.
func (f *Factory) Priority() int {
	return 1 // Very low priority
}

// Create builds a new mock Driver from the resolved configuration.
func (f *Factory) Create(config *gateway.ProviderConfig) gateway.Driver {
	return NewClient(config)
}

// DetectEnvironment checks if mock is enabled.
func (f *Factory) DetectEnvironment() (priority int, available bool) {
	// Mock is never auto-detected.
	return 0, false
}

// Client implements gateway.Driver for testing.
type Client struct {
	Config        *gateway.ProviderConfig
	Responses     []string
	ResponseIndex int
	Error         error
	CallCount     int
	LastPrompt    string
	LastOptions   *gateway.Options
}

// NewClient creates a new mock client.
func NewClient(config *gateway.ProviderConfig) *Client {
	return &Client{
		Config:    config,
		Responses: []string{"Mock response"},
	}
}

// Generate returns a canned response from the configured response list.
func (c *Client) Generate(ctx context.Context, prompt string, options *gateway.Options) (*gateway.Result, error) {
	c.CallCount++
	c.LastPrompt = prompt
	c.LastOptions = options

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if c.Error != nil {
		return nil, c.Error
	}

	if c.ResponseIndex >= len(c.Responses) {
		return nil, errors.New("no more mock responses")
	}

	response := c.Responses[c.ResponseIndex]
	c.ResponseIndex++

	model := "mock-model"
	if options != nil && options.Model != "" {
		model = options.Model
	} else if c.Config != nil && c.Config.Model != "" {
		model = c.Config.Model
	}

	return &gateway.Result{
		Content: response,
		Model:   model,
		Usage: gateway.TokenUsage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(response) / 4,
			TotalTokens:      (len(prompt) + len(response)) / 4,
		},
	}, nil
}

// SetResponses sets the responses to return.
func (c *Client) SetResponses(responses ...string) {
	c.Responses = responses
	c.ResponseIndex = 0
}

// SetError sets an error to return.
func (c *Client) SetError(err error) {
	c.Error = err
}

// Reset resets the mock client.
func (c *Client) Reset() {
	c.ResponseIndex = 0
	c.CallCount = 0
	c.LastPrompt = ""
	c.LastOptions = nil
	c.Error = nil
}
