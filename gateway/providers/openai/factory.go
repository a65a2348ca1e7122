package openai

import (
	"net/http"
	"os"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/gateway"
)

// Factory implements gateway.ProviderFactory for OpenAI and
// OpenAI-compatible services (Groq, DeepSeek, Together, local Ollama).
type Factory struct{}

// Create builds a new OpenAI-compatible Driver from the resolved configuration.
func (f *Factory) Create(config *gateway.ProviderConfig) gateway.Driver {
	// Resolve credentials using the three-tier configuration hierarchy:
	// 1. Explicit config (highest priority)
	// 2. Environment variables with provider-specific overrides
	// 3. Hardcoded defaults (lowest priority)
	apiKey, baseURL := f.resolveCredentials(config)

	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	logger.Info("OpenAI provider initialized", map[string]interface{}{
		"operation":      "provider_init",
		"provider":       "openai",
		"provider_alias": config.ProviderAlias,
		"base_url":       baseURL,
		"has_api_key":    apiKey != "",
		"timeout":        config.Timeout.String(),
		"max_retries":    config.MaxRetries,
		"model":          config.Model,
	})

	client := NewClient(apiKey, baseURL, config.ProviderAlias, logger)
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

	if len(config.Headers) > 0 {
		client.BaseClient.HTTPClient.Transport = &headerTransport{
			headers: config.Headers,
			base:    http.DefaultTransport,
		}
	}

	return client
}

// resolveCredentials determines which OpenAI-compatible service to use and
// resolves credentials. Priority: explicit config > provider-specific env
// var > hardcoded default.
func (f *Factory) resolveCredentials(config *gateway.ProviderConfig) (apiKey, baseURL string) {
	switch config.ProviderAlias {
	case "openai.groq":
		return firstNonEmpty(config.APIKey, os.Getenv("GROQ_API_KEY")),
			firstNonEmpty(config.BaseURL, os.Getenv("GROQ_BASE_URL"), "https://api.groq.com/openai/v1")

	case "openai.together":
		return firstNonEmpty(config.APIKey, os.Getenv("TOGETHER_API_KEY")),
			firstNonEmpty(config.BaseURL, os.Getenv("TOGETHER_BASE_URL"), "https://api.together.xyz/v1")

	case "openai.ollama":
		return config.APIKey,
			firstNonEmpty(config.BaseURL, os.Getenv("OLLAMA_BASE_URL"), "http://localhost:11434/v1")

	default:
		// "openai" or empty - vanilla OpenAI or auto-detection fallback.
		if os.Getenv("OPENAI_API_KEY") != "" {
			return firstNonEmpty(config.APIKey, os.Getenv("OPENAI_API_KEY")),
				firstNonEmpty(config.BaseURL, os.Getenv("OPENAI_BASE_URL"), "https://api.openai.com/v1")
		}
		if os.Getenv("GROQ_API_KEY") != "" {
			return firstNonEmpty(config.APIKey, os.Getenv("GROQ_API_KEY")),
				firstNonEmpty(config.BaseURL, os.Getenv("GROQ_BASE_URL"), "https://api.groq.com/openai/v1")
		}
		if os.Getenv("TOGETHER_API_KEY") != "" {
			return firstNonEmpty(config.APIKey, os.Getenv("TOGETHER_API_KEY")),
				firstNonEmpty(config.BaseURL, os.Getenv("TOGETHER_BASE_URL"), "https://api.together.xyz/v1")
		}
		if isLocalServiceAvailable("http://localhost:11434/v1/models") {
			return config.APIKey,
				firstNonEmpty(config.BaseURL, os.Getenv("OLLAMA_BASE_URL"), "http://localhost:11434/v1")
		}

		return firstNonEmpty(config.APIKey, os.Getenv("OPENAI_API_KEY")),
			firstNonEmpty(config.BaseURL, os.Getenv("OPENAI_BASE_URL"), "https://api.openai.com/v1")
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

// headerTransport adds custom headers to outgoing requests.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// DetectEnvironment reports whether an OpenAI-compatible service is
// reachable given the current environment, and its relative priority.
// Reads environment only; never mutates it.
func (f *Factory) DetectEnvironment() (priority int, available bool) {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return 100, true
	}
	if os.Getenv("GROQ_API_KEY") != "" {
		return 95, true
	}
	if os.Getenv("TOGETHER_API_KEY") != "" {
		return 75, true
	}
	if isLocalServiceAvailable("http://localhost:11434/v1/models") {
		return 50, true
	}
	return 0, false
}

// isLocalServiceAvailable checks if a local service is running.
func isLocalServiceAvailable(url string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Name returns the provider name.
func (f *Factory) Name() string {
	return "openai"
}

// Description returns a human-readable description.
func (f *Factory) Description() string {
	return "Universal OpenAI-compatible provider (OpenAI, Groq, Together, local Ollama)"
}

func init() {
	gateway.MustRegister(&Factory{})
}
