// Package gateway implements the provider fallback gateway: a priority-ordered
// dispatcher across multiple LLM provider drivers with response caching,
// per-provider health tracking, and bounded retry with exponential backoff.
//
// The gateway never talks to a provider's wire protocol directly; each
// provider package (openai, anthropic, gemini, bedrock; Groq is served by the
// openai package as an OpenAI-compatible alias) implements the Driver
// interface and self-registers a ProviderFactory via init(). The
// gateway itself only knows about Driver, Options, and Result.
package gateway

import (
	"context"
)

// Driver is the contract every provider client implements. It knows how to
// turn a prompt into a completion for exactly one backend; it does not know
// about fallback, caching, or priority ordering — that is the Gateway's job.
type Driver interface {
	Generate(ctx context.Context, prompt string, opts *Options) (*Result, error)
}

// Options carries the caller-supplied generation parameters. A nil *Options
// means "use the driver's defaults".
type Options struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string

	// UseCache controls whether Generate may serve this request from its
	// response cache or populate the cache on success. Nil means true.
	UseCache *bool

	// AllowFallback controls whether Generate continues to the next
	// provider in priority order after a failure. Nil means true; when
	// false, Generate returns as soon as the first provider it actually
	// tries fails, without trying any fallback.
	AllowFallback *bool
}

// useCache reports whether caching is enabled for this call. A nil Options
// or a nil UseCache field both default to true.
func (o *Options) useCache() bool {
	return o == nil || o.UseCache == nil || *o.UseCache
}

// allowFallback reports whether Generate may continue past a failed
// provider to the next one in priority order. Defaults to true.
func (o *Options) allowFallback() bool {
	return o == nil || o.AllowFallback == nil || *o.AllowFallback
}

// Result is the normalized output of a Generate call.
type Result struct {
	Content string
	Model   string
	Usage   TokenUsage

	// ProviderUsed is the name of the provider that produced Content, or
	// the provider that produced it originally when FromCache is true.
	ProviderUsed string
	// ElapsedMs is the wall-clock duration of the Generate call that
	// returned this Result, in milliseconds.
	ElapsedMs int64
	// FromCache reports whether this Result was served from the gateway's
	// response cache rather than a live provider call.
	FromCache bool
}

// TokenUsage reports token accounting for a single generation.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// cloneOptions returns a shallow copy so per-provider mutation (e.g. model
// alias resolution) never bleeds into the next provider in the chain.
func cloneOptions(opts *Options) *Options {
	if opts == nil {
		return nil
	}
	clone := *opts
	return &clone
}
