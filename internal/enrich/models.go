package enrich

import "time"

// DefaultModel is used when the operator never picked one.
const DefaultModel = "gpt-5-nano"

// DefaultPrompt is the system prompt used when the operator never set one.
const DefaultPrompt = "You are a product description writer for an e-commerce store. " +
	"Rewrite the following product description to be clear, professional, and optimized for online sales. " +
	"Keep it concise and highlight key features and benefits. " +
	"Return only the rewritten description with no preamble or extra commentary."

// modelProfile shapes the request per model family: reasoning models need
// higher token ceilings and longer timeouts, and reject a temperature.
type modelProfile struct {
	reasoning bool
	maxTokens int
	timeout   time.Duration
}

var modelProfiles = map[string]modelProfile{
	"gpt-5-nano": {reasoning: true, maxTokens: 16384, timeout: 60 * time.Second},
	"gpt-5-mini": {reasoning: false, maxTokens: 4096, timeout: 30 * time.Second},
	"gpt-5":      {reasoning: true, maxTokens: 16384, timeout: 120 * time.Second},
	"gpt-5.2":    {reasoning: true, maxTokens: 16384, timeout: 120 * time.Second},
	"gpt-4.1":    {reasoning: false, maxTokens: 4096, timeout: 30 * time.Second},
}

// profileFor returns the request profile for a model, with a conservative
// fallback for unrecognized identifiers.
func profileFor(model string) modelProfile {
	if profile, ok := modelProfiles[model]; ok {
		return profile
	}
	return modelProfile{reasoning: false, maxTokens: 4096, timeout: 60 * time.Second}
}
