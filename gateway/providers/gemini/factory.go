package gemini

import (
	"os"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/gateway"
)

func init() {
	gateway.MustRegister(&Factory{})
}

// Factory creates Gemini driver instances.
type Factory struct{}

// Name returns the provider name.
func (f *Factory) Name() string {
	return "gemini"
}

// Description returns provider description.
func (f *Factory) Description() string {
	return "Google Gemini models with native GenerateContent API"
}

// Priority returns the provider's relative auto-detection priority.
func (f *Factory) Priority() int {
	return 70 // Lower than Anthropic but higher than local providers
}

// Create builds a new Gemini Driver from the resolved configuration.
func (f *Factory) Create(config *gateway.ProviderConfig) gateway.Driver {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("GEMINI_BASE_URL")
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

// DetectEnvironment checks if Gemini is configured and returns priority.
func (f *Factory) DetectEnvironment() (priority int, available bool) {
	if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		return f.Priority(), true
	}
	return 0, false
}
