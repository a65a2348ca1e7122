package gateway

import (
	"os"
	"strings"
	"time"

	"github.com/itsneelabh/gomind/core"
)

// ProviderID names a registered provider driver.
type ProviderID string

// Standard provider constants. These correspond to the provider packages
// under gateway/providers/.
const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
	ProviderGroq      ProviderID = "groq"
	ProviderBedrock   ProviderID = "bedrock"
	ProviderAuto      ProviderID = "auto" // auto-detect from environment
)

// ProviderConfig holds configuration for provider driver construction.
type ProviderConfig struct {
	// Provider to use
	Provider string

	// ProviderAlias for OpenAI-compatible services.
	// Examples: "openai.groq", "openai.together"
	ProviderAlias string

	// API credentials
	APIKey  string
	BaseURL string

	// Connection settings
	Timeout    time.Duration
	MaxRetries int

	// Model configuration
	Model       string
	Temperature float32
	MaxTokens   int

	Logger    core.Logger
	Telemetry core.Telemetry

	// AWS Bedrock / advanced options
	Headers map[string]string
	Extra   map[string]interface{}
}

// ProviderOption configures a ProviderConfig.
type ProviderOption func(*ProviderConfig)

// WithProvider sets the provider name.
func WithProvider(provider string) ProviderOption {
	return func(c *ProviderConfig) {
		c.Provider = provider
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) ProviderOption {
	return func(c *ProviderConfig) {
		c.APIKey = key
	}
}

// WithBaseURL sets the base URL for the API.
func WithBaseURL(url string) ProviderOption {
	return func(c *ProviderConfig) {
		c.BaseURL = url
	}
}

// WithRegion sets the AWS region for the Bedrock provider.
func WithRegion(region string) ProviderOption {
	return func(c *ProviderConfig) {
		if c.Extra == nil {
			c.Extra = make(map[string]interface{})
		}
		c.Extra["region"] = region
	}
}

// WithAWSCredentials sets explicit AWS credentials for the Bedrock provider.
func WithAWSCredentials(accessKey, secretKey, sessionToken string) ProviderOption {
	return func(c *ProviderConfig) {
		if c.Extra == nil {
			c.Extra = make(map[string]interface{})
		}
		c.Extra["aws_access_key_id"] = accessKey
		c.Extra["aws_secret_access_key"] = secretKey
		if sessionToken != "" {
			c.Extra["aws_session_token"] = sessionToken
		}
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(c *ProviderConfig) {
		c.Timeout = timeout
	}
}

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(retries int) ProviderOption {
	return func(c *ProviderConfig) {
		c.MaxRetries = retries
	}
}

// WithModel sets the model to use.
func WithModel(model string) ProviderOption {
	return func(c *ProviderConfig) {
		c.Model = model
	}
}

// WithTemperature sets the temperature for generation.
func WithTemperature(temp float32) ProviderOption {
	return func(c *ProviderConfig) {
		c.Temperature = temp
	}
}

// WithMaxTokens sets the maximum tokens for generation.
func WithMaxTokens(tokens int) ProviderOption {
	return func(c *ProviderConfig) {
		c.MaxTokens = tokens
	}
}

// WithHeaders sets custom headers.
func WithHeaders(headers map[string]string) ProviderOption {
	return func(c *ProviderConfig) {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		for k, v := range headers {
			c.Headers[k] = v
		}
	}
}

// WithExtra sets an extra configuration option.
func WithExtra(key string, value interface{}) ProviderOption {
	return func(c *ProviderConfig) {
		if c.Extra == nil {
			c.Extra = make(map[string]interface{})
		}
		c.Extra[key] = value
	}
}

// WithLogger sets the logger used by the provider driver.
func WithLogger(logger core.Logger) ProviderOption {
	return func(c *ProviderConfig) {
		c.Logger = logger
	}
}

// WithTelemetry sets the telemetry provider for distributed tracing.
func WithTelemetry(telemetry core.Telemetry) ProviderOption {
	return func(c *ProviderConfig) {
		c.Telemetry = telemetry
	}
}

// WithProviderAlias sets the provider alias for OpenAI-compatible services.
// Parses the alias to extract the base provider ("openai" from
// "openai.groq") and, when the caller hasn't set APIKey/BaseURL explicitly,
// auto-configures them from provider-specific environment variables.
func WithProviderAlias(alias string) ProviderOption {
	return func(c *ProviderConfig) {
		c.ProviderAlias = alias

		parts := strings.Split(alias, ".")
		if len(parts) == 0 {
			return
		}
		c.Provider = parts[0]

		if len(parts) > 1 && c.APIKey == "" && c.BaseURL == "" {
			subprovider := parts[1]
			switch subprovider {
			case "groq":
				c.APIKey = os.Getenv("GROQ_API_KEY")
				c.BaseURL = firstNonEmpty(os.Getenv("GROQ_BASE_URL"), "https://api.groq.com/openai/v1")
			case "together":
				c.APIKey = os.Getenv("TOGETHER_API_KEY")
				c.BaseURL = firstNonEmpty(os.Getenv("TOGETHER_BASE_URL"), "https://api.together.xyz/v1")
			case "ollama":
				c.BaseURL = firstNonEmpty(os.Getenv("OLLAMA_BASE_URL"), "http://localhost:11434/v1")
			}
		}
	}
}

// firstNonEmpty returns the first non-empty string from the provided values.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
