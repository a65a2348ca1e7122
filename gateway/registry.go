package gateway

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/itsneelabh/gomind/telemetry"
)

// ProviderFactory builds a Driver for a specific provider and reports
// whether that provider is usable given the current environment (typically
// based on whether its API key is set).
type ProviderFactory interface {
	// Create builds a new Driver instance from the given configuration.
	Create(config *ProviderConfig) Driver

	// DetectEnvironment reports a priority (higher preferred) and whether
	// the provider can be used given the current environment.
	DetectEnvironment() (priority int, available bool)

	// Name returns the provider's registered name.
	Name() string

	// Description returns a human-readable description.
	Description() string
}

// providerRegistry manages registered provider factories.
type providerRegistry struct {
	mu        sync.RWMutex
	providers map[string]ProviderFactory
}

var registry = &providerRegistry{
	providers: make(map[string]ProviderFactory),
}

// Register registers a new provider factory. Typically called from init()
// in provider packages.
func Register(factory ProviderFactory) error {
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	name := factory.Name()
	if name == "" {
		return fmt.Errorf("factory.Name() cannot be empty")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.providers[name]; exists {
		return fmt.Errorf("provider '%s' already registered", name)
	}

	registry.providers[name] = factory
	return nil
}

// MustRegister registers a provider and panics on error. Use in init()
// functions where errors cannot be handled.
func MustRegister(factory ProviderFactory) {
	if err := Register(factory); err != nil {
		panic(fmt.Sprintf("failed to register provider: %v", err))
	}
}

// GetProvider retrieves a registered provider factory by name.
func GetProvider(name string) (ProviderFactory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	factory, exists := registry.providers[name]
	return factory, exists
}

// ListProviders returns all registered provider names, sorted.
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.providers))
	for name := range registry.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderInfo describes a registered provider's detection result.
type ProviderInfo struct {
	Name        string
	Description string
	Available   bool
	Priority    int
}

// GetProviderInfo returns detection info for all registered providers,
// sorted by priority (highest first) then name.
func GetProviderInfo() []ProviderInfo {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	info := make([]ProviderInfo, 0, len(registry.providers))
	for name, factory := range registry.providers {
		priority, available := factory.DetectEnvironment()
		info = append(info, ProviderInfo{
			Name:        name,
			Description: factory.Description(),
			Available:   available,
			Priority:    priority,
		})
	}

	sort.Slice(info, func(i, j int) bool {
		if info[i].Priority != info[j].Priority {
			return info[i].Priority > info[j].Priority
		}
		return info[i].Name < info[j].Name
	})

	return info
}

// candidate represents a provider candidate for selection.
type candidate struct {
	name     string
	priority int
}

// detectBestProvider finds the best available provider from the registry
// based on each factory's environment detection.
func detectBestProvider(logger core.Logger) (string, error) {
	startTime := time.Now()
	var candidates []candidate

	if logger != nil {
		logger.Info("starting provider environment detection", map[string]interface{}{
			"operation":            "provider_detection",
			"registered_providers": len(registry.providers),
		})
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for name, factory := range registry.providers {
		priority, available := factory.DetectEnvironment()

		if logger != nil {
			logger.Debug("provider environment check", map[string]interface{}{
				"operation": "provider_check",
				"provider":  name,
				"priority":  priority,
				"available": available,
			})
		}

		if available {
			candidates = append(candidates, candidate{name: name, priority: priority})
		}
	}

	if len(candidates) == 0 {
		telemetry.Counter(telemetry.MetricProviderDetection,
			"status", "no_providers",
		)

		if logger != nil {
			logger.Error("no providers detected in environment", map[string]interface{}{
				"operation":         "provider_detection",
				"checked_providers": len(registry.providers),
				"suggestion":        "set API keys (OPENAI_API_KEY, ANTHROPIC_API_KEY, etc.)",
			})
		}
		return "", fmt.Errorf("no provider detected in environment")
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	selected := candidates[0].name
	telemetry.Histogram(telemetry.MetricProviderDetectionLatency,
		float64(time.Since(startTime).Milliseconds()),
		"status", "success",
	)
	telemetry.Counter(telemetry.MetricProviderSelected, "provider", selected)

	if logger != nil {
		logger.Info("provider selected", map[string]interface{}{
			"operation":         "provider_selection",
			"selected_provider": selected,
			"total_candidates":  len(candidates),
		})
	}

	return selected, nil
}
