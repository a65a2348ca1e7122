package anthropic

import (
	"os"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/gateway"
)

func init() {
	gateway.MustRegister(&Factory{})
}

// Factory creates Anthropic driver instances.
type Factory struct{}

// Name returns the provider name.
func (f *Factory) Name() string {
	return "anthropic"
}

// Description returns provider description.
func (f *Factory) Description() string {
	return "Anthropic Claude models with native Messages API"
}

// Priority returns the provider's relative auto-detection priority.
func (f *Factory) Priority() int {
	return 80 // Lower than OpenAI but higher than local providers
}

// Create builds a new Anthropic Driver from the resolved configuration.
func (f *Factory) Create(config *gateway.ProviderConfig) gateway.Driver {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ANTHROPIC_BASE_URL")
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	client := NewClient(apiKey, baseURL, logger)
	client.BaseClient.Telemetry = config.Telemetry

	if config.Timeout > 0 {
		client.BaseClient.HTTPClient.Timeout = config.Timeout
	}

	if config.MaxRetries > 0 {
		client.BaseClient.MaxRetries = config.MaxRetries
	}

	if config.Model != "" {
		client.BaseClient.DefaultModel = config.Model
	}

	if config.Temperature > 0 {
		client.BaseClient.DefaultTemperature = config.Temperature
	}

	if config.MaxTokens > 0 {
		client.BaseClient.DefaultMaxTokens = config.MaxTokens
	}

	return client
}

// DetectEnvironment checks if Anthropic is configured and returns priority.
func (f *Factory) DetectEnvironment() (priority int, available bool) {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return f.Priority(), true
	}
	return 0, false
}
