package openai

import (
	"os"
	"testing"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/gateway"
)

// TestDetectEnvironmentNoMutation verifies DetectEnvironment() never mutates
// global environment variables, even across repeated calls.
func TestDetectEnvironmentNoMutation(t *testing.T) {
	originalVars := saveEnvironment()
	defer restoreEnvironment(originalVars)

	os.Setenv("OPENAI_API_KEY", "sk-test-original")
	os.Setenv("GROQ_API_KEY", "")

	factory := &Factory{}

	for i := 0; i < 50; i++ {
		priority, available := factory.DetectEnvironment()

		if !available {
			t.Errorf("Iteration %d: Expected environment to be available", i)
		}
		if priority != 100 {
			t.Errorf("Iteration %d: Expected priority 100 for OpenAI, got %d", i, priority)
		}

		if os.Getenv("OPENAI_API_KEY") != "sk-test-original" {
			t.Fatalf("Iteration %d: DetectEnvironment() mutated OPENAI_API_KEY - critical bug!", i)
		}
		if os.Getenv("GROQ_API_KEY") != "" {
			t.Fatalf("Iteration %d: DetectEnvironment() mutated GROQ_API_KEY - critical bug!", i)
		}
	}
}

// TestConfigurationPrecedence verifies the three-tier hierarchy:
// explicit config > environment variables > hardcoded defaults.
func TestConfigurationPrecedence(t *testing.T) {
	tests := []struct {
		name            string
		providerAlias   string
		explicitAPIKey  string
		explicitBaseURL string
		envAPIKey       string
		envBaseURL      string
		expectedAPIKey  string
		expectedBaseURL string
		description     string
	}{
		{
			name:            "Tier 1 wins: Explicit overrides everything",
			providerAlias:   "openai.groq",
			explicitAPIKey:  "explicit-key",
			explicitBaseURL: "https://explicit.url",
			envAPIKey:       "env-key",
			envBaseURL:      "https://env.url",
			expectedAPIKey:  "explicit-key",
			expectedBaseURL: "https://explicit.url",
			description:     "Explicit config should override env vars and defaults",
		},
		{
			name:            "Tier 2 wins: Env overrides defaults",
			providerAlias:   "openai.groq",
			explicitAPIKey:  "",
			explicitBaseURL: "",
			envAPIKey:       "env-key",
			envBaseURL:      "https://env.url",
			expectedAPIKey:  "env-key",
			expectedBaseURL: "https://env.url",
			description:     "Env vars should override hardcoded defaults",
		},
		{
			name:            "Tier 3: Defaults when no explicit or env",
			providerAlias:   "openai.groq",
			explicitAPIKey:  "",
			explicitBaseURL: "",
			envAPIKey:       "",
			envBaseURL:      "",
			expectedAPIKey:  "",
			expectedBaseURL: "https://api.groq.com/openai/v1",
			description:     "Should fall back to hardcoded defaults",
		},
		{
			name:            "Mixed: Explicit API key, env URL",
			providerAlias:   "openai.together",
			explicitAPIKey:  "explicit-key",
			explicitBaseURL: "",
			envAPIKey:       "env-key",
			envBaseURL:      "https://env.url",
			expectedAPIKey:  "explicit-key",
			expectedBaseURL: "https://env.url",
			description:     "Each field independently follows precedence",
		},
		{
			name:            "Mixed: Env API key, explicit URL",
			providerAlias:   "openai.together",
			explicitAPIKey:  "",
			explicitBaseURL: "https://explicit.url",
			envAPIKey:       "env-key",
			envBaseURL:      "https://env.url",
			expectedAPIKey:  "env-key",
			expectedBaseURL: "https://explicit.url",
			description:     "Each field independently follows precedence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			originalVars := saveEnvironment()
			defer restoreEnvironment(originalVars)
			clearAllProviderEnvVars()

			setProviderEnvVars(tt.providerAlias, tt.envAPIKey, tt.envBaseURL)

			config := &gateway.ProviderConfig{
				ProviderAlias: tt.providerAlias,
				APIKey:        tt.explicitAPIKey,
				BaseURL:       tt.explicitBaseURL,
			}

			factory := &Factory{}
			apiKey, baseURL := factory.resolveCredentials(config)

			if apiKey != tt.expectedAPIKey {
				t.Errorf("%s\nExpected API key %q, got %q", tt.description, tt.expectedAPIKey, apiKey)
			}
			if baseURL != tt.expectedBaseURL {
				t.Errorf("%s\nExpected base URL %q, got %q", tt.description, tt.expectedBaseURL, baseURL)
			}
		})
	}
}

// TestAllProvidersConfiguration verifies every OpenAI-compatible alias resolves.
func TestAllProvidersConfiguration(t *testing.T) {
	tests := []struct {
		providerAlias string
		envKeyName    string
		envURLName    string
		defaultURL    string
	}{
		{"openai.groq", "GROQ_API_KEY", "GROQ_BASE_URL", "https://api.groq.com/openai/v1"},
		{"openai.together", "TOGETHER_API_KEY", "TOGETHER_BASE_URL", "https://api.together.xyz/v1"},
		{"openai.ollama", "", "OLLAMA_BASE_URL", "http://localhost:11434/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.providerAlias, func(t *testing.T) {
			originalVars := saveEnvironment()
			defer restoreEnvironment(originalVars)
			clearAllProviderEnvVars()

			if tt.envKeyName != "" {
				os.Setenv(tt.envKeyName, "test-key")
			}
			os.Setenv(tt.envURLName, "https://test.url")

			config := &gateway.ProviderConfig{
				ProviderAlias: tt.providerAlias,
			}

			factory := &Factory{}
			apiKey, baseURL := factory.resolveCredentials(config)

			if tt.envKeyName != "" && apiKey != "test-key" {
				t.Errorf("With env vars: Expected API key 'test-key', got %q", apiKey)
			}
			if baseURL != "https://test.url" {
				t.Errorf("With env vars: Expected base URL 'https://test.url', got %q", baseURL)
			}

			clearAllProviderEnvVars()
			apiKey, baseURL = factory.resolveCredentials(config)
			_ = apiKey
			if baseURL != tt.defaultURL {
				t.Errorf("With defaults: Expected URL %q, got %q", tt.defaultURL, baseURL)
			}
		})
	}
}

// TestAutoDetectionBackwardCompatibility verifies zero-config auto-detection.
func TestAutoDetectionBackwardCompatibility(t *testing.T) {
	tests := []struct {
		name             string
		envVars          map[string]string
		expectedPriority int
		expectedAPIKey   string
		expectedBaseURL  string
	}{
		{
			name: "OpenAI has highest priority",
			envVars: map[string]string{
				"OPENAI_API_KEY": "sk-openai",
				"GROQ_API_KEY":   "gsk-groq",
			},
			expectedPriority: 100,
			expectedAPIKey:   "sk-openai",
			expectedBaseURL:  "https://api.openai.com/v1",
		},
		{
			name: "Groq when no OpenAI",
			envVars: map[string]string{
				"GROQ_API_KEY":     "gsk-groq",
				"TOGETHER_API_KEY": "sk-together",
			},
			expectedPriority: 95,
			expectedAPIKey:   "gsk-groq",
			expectedBaseURL:  "https://api.groq.com/openai/v1",
		},
		{
			name: "Together when no OpenAI/Groq",
			envVars: map[string]string{
				"TOGETHER_API_KEY": "sk-together",
			},
			expectedPriority: 75,
			expectedAPIKey:   "sk-together",
			expectedBaseURL:  "https://api.together.xyz/v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			originalVars := saveEnvironment()
			defer restoreEnvironment(originalVars)
			clearAllProviderEnvVars()

			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			factory := &Factory{}

			priority, available := factory.DetectEnvironment()
			if !available {
				t.Error("Expected environment to be available")
			}
			if priority != tt.expectedPriority {
				t.Errorf("Expected priority %d, got %d", tt.expectedPriority, priority)
			}

			config := &gateway.ProviderConfig{ProviderAlias: ""}
			apiKey, baseURL := factory.resolveCredentials(config)

			if apiKey != tt.expectedAPIKey {
				t.Errorf("Expected API key %q, got %q", tt.expectedAPIKey, apiKey)
			}
			if baseURL != tt.expectedBaseURL {
				t.Errorf("Expected base URL %q, got %q", tt.expectedBaseURL, baseURL)
			}
		})
	}
}

// TestProviderAliasConfiguration verifies WithProviderAlias auto-configures
// credentials from the environment.
func TestProviderAliasConfiguration(t *testing.T) {
	tests := []struct {
		name          string
		alias         string
		envVars       map[string]string
		expectedBase  string
		expectedAlias string
	}{
		{
			name:  "Groq alias with env vars",
			alias: "openai.groq",
			envVars: map[string]string{
				"GROQ_API_KEY":  "gsk-groq-test",
				"GROQ_BASE_URL": "https://test.groq.com",
			},
			expectedBase:  "openai",
			expectedAlias: "openai.groq",
		},
		{
			name:          "Together alias",
			alias:         "openai.together",
			envVars:       map[string]string{"TOGETHER_API_KEY": "sk-together-test"},
			expectedBase:  "openai",
			expectedAlias: "openai.together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			originalVars := saveEnvironment()
			defer restoreEnvironment(originalVars)
			clearAllProviderEnvVars()

			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			config := &gateway.ProviderConfig{}
			option := gateway.WithProviderAlias(tt.alias)
			option(config)

			if config.Provider != tt.expectedBase {
				t.Errorf("Expected provider %q, got %q", tt.expectedBase, config.Provider)
			}
			if config.ProviderAlias != tt.expectedAlias {
				t.Errorf("Expected alias %q, got %q", tt.expectedAlias, config.ProviderAlias)
			}

			if config.APIKey == "" && tt.envVars[extractEnvKeyName(tt.alias)] != "" {
				t.Errorf("Expected APIKey to be auto-configured from environment")
			}
		})
	}
}

// TestModelAliasResolution verifies portable model names resolve per provider.
func TestModelAliasResolution(t *testing.T) {
	tests := []struct {
		providerAlias string
		inputModel    string
		expectedModel string
		description   string
	}{
		{"openai", "fast", "gpt-3.5-turbo", "OpenAI fast model"},
		{"openai", "smart", "gpt-4", "OpenAI smart model"},
		{"openai.groq", "fast", "llama-3.3-70b-versatile", "Groq fast model"},
		{"openai.groq", "smart", "mixtral-8x7b-32768", "Groq smart model"},
		{"openai.together", "fast", "meta-llama/Llama-3-8b-chat-hf", "Together fast model"},
		{"openai", "gpt-4-turbo", "gpt-4-turbo", "Non-alias pass-through"},
		{"", "smart", "gpt-4", "Empty alias defaults to openai"},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			result := ResolveModel(tt.providerAlias, tt.inputModel)
			if result != tt.expectedModel {
				t.Errorf("ResolveModel(%q, %q) = %q, want %q",
					tt.providerAlias, tt.inputModel, result, tt.expectedModel)
			}
		})
	}
}

// TestMultiProviderCoexistence verifies multiple OpenAI-compatible providers
// can be configured simultaneously without interfering with each other.
func TestMultiProviderCoexistence(t *testing.T) {
	originalVars := saveEnvironment()
	defer restoreEnvironment(originalVars)
	clearAllProviderEnvVars()

	os.Setenv("OPENAI_API_KEY", "sk-openai-test")
	os.Setenv("GROQ_API_KEY", "gsk-groq-test")
	os.Setenv("TOGETHER_API_KEY", "sk-together-test")

	factory := &Factory{}

	configs := []struct {
		alias           string
		expectedAPIKey  string
		expectedBaseURL string
	}{
		{"openai", "sk-openai-test", "https://api.openai.com/v1"},
		{"openai.groq", "gsk-groq-test", "https://api.groq.com/openai/v1"},
		{"openai.together", "sk-together-test", "https://api.together.xyz/v1"},
	}

	for _, cfg := range configs {
		t.Run(cfg.alias, func(t *testing.T) {
			config := &gateway.ProviderConfig{ProviderAlias: cfg.alias}

			apiKey, baseURL := factory.resolveCredentials(config)

			if apiKey != cfg.expectedAPIKey {
				t.Errorf("Provider %s: Expected API key %q, got %q",
					cfg.alias, cfg.expectedAPIKey, apiKey)
			}
			if baseURL != cfg.expectedBaseURL {
				t.Errorf("Provider %s: Expected base URL %q, got %q",
					cfg.alias, cfg.expectedBaseURL, baseURL)
			}
		})
	}

	if os.Getenv("OPENAI_API_KEY") != "sk-openai-test" {
		t.Error("Environment corrupted: OPENAI_API_KEY changed")
	}
	if os.Getenv("GROQ_API_KEY") != "gsk-groq-test" {
		t.Error("Environment corrupted: GROQ_API_KEY changed")
	}
	if os.Getenv("TOGETHER_API_KEY") != "sk-together-test" {
		t.Error("Environment corrupted: TOGETHER_API_KEY changed")
	}
}

// TestModelResolutionIntegration verifies the client stores the provider
// alias for request-time model resolution rather than resolving eagerly.
func TestModelResolutionIntegration(t *testing.T) {
	originalVars := saveEnvironment()
	defer restoreEnvironment(originalVars)
	clearAllProviderEnvVars()

	os.Setenv("GROQ_API_KEY", "sk-test")

	factory := &Factory{}
	config := &gateway.ProviderConfig{
		ProviderAlias: "openai.groq",
		Model:         "smart", // Resolved at request-time to "mixtral-8x7b-32768"
		Logger:        &core.NoOpLogger{},
	}

	client := factory.Create(config)
	openaiClient, ok := client.(*Client)
	if !ok {
		t.Fatal("Expected *Client type")
	}

	if openaiClient.DefaultModel != "smart" {
		t.Errorf("Expected DefaultModel to store alias 'smart', got %q", openaiClient.DefaultModel)
	}

	if openaiClient.providerAlias != "openai.groq" {
		t.Errorf("Expected providerAlias 'openai.groq', got %q", openaiClient.providerAlias)
	}

	resolved := ResolveModel(openaiClient.providerAlias, openaiClient.DefaultModel)
	if resolved != "mixtral-8x7b-32768" {
		t.Errorf("Expected resolved model 'mixtral-8x7b-32768', got %q", resolved)
	}
}

// ================================
// Helper Functions
// ================================

func saveEnvironment() map[string]string {
	vars := []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL",
		"GROQ_API_KEY", "GROQ_BASE_URL",
		"TOGETHER_API_KEY", "TOGETHER_BASE_URL",
		"OLLAMA_BASE_URL",
	}
	saved := make(map[string]string)
	for _, v := range vars {
		saved[v] = os.Getenv(v)
	}
	return saved
}

func restoreEnvironment(saved map[string]string) {
	for k, v := range saved {
		if v == "" {
			os.Unsetenv(k)
		} else {
			os.Setenv(k, v)
		}
	}
}

func clearAllProviderEnvVars() {
	vars := []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL",
		"GROQ_API_KEY", "GROQ_BASE_URL",
		"TOGETHER_API_KEY", "TOGETHER_BASE_URL",
		"OLLAMA_BASE_URL",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func setProviderEnvVars(alias, apiKey, baseURL string) {
	switch alias {
	case "openai.groq":
		if apiKey != "" {
			os.Setenv("GROQ_API_KEY", apiKey)
		}
		if baseURL != "" {
			os.Setenv("GROQ_BASE_URL", baseURL)
		}
	case "openai.together":
		if apiKey != "" {
			os.Setenv("TOGETHER_API_KEY", apiKey)
		}
		if baseURL != "" {
			os.Setenv("TOGETHER_BASE_URL", baseURL)
		}
	case "openai.ollama":
		if baseURL != "" {
			os.Setenv("OLLAMA_BASE_URL", baseURL)
		}
	case "openai":
		if apiKey != "" {
			os.Setenv("OPENAI_API_KEY", apiKey)
		}
		if baseURL != "" {
			os.Setenv("OPENAI_BASE_URL", baseURL)
		}
	}
}

func extractEnvKeyName(alias string) string {
	switch alias {
	case "openai.groq":
		return "GROQ_API_KEY"
	case "openai.together":
		return "TOGETHER_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}
