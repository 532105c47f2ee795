package chat

import (
	"fmt"
	"strings"
)

// Provider route identifiers, as used in POST /chat/{provider}.
const (
	ProviderGPT    = "gpt"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// ModelInfo represents one selectable model of the client catalog.
type ModelInfo struct {
	Label    string `json:"label"`    // Model label sent to the relay (e.g., "gptTurbo")
	Name     string `json:"name"`     // Human-readable name
	Provider string `json:"provider"` // Route identifier of the adapter serving the label
}

// Models is the client model catalog. The provider of a label is looked up
// here instead of being guessed from the label text.
var Models = []ModelInfo{
	{Label: "gpt", Name: "GPT 4", Provider: ProviderGPT},
	{Label: "gptTurbo", Name: "GPT Turbo", Provider: ProviderGPT},
	{Label: "claude", Name: "Claude", Provider: ProviderClaude},
	{Label: "claudeInstant", Name: "Claude Instant", Provider: ProviderClaude},
	{Label: "gemini", Name: "Gemini", Provider: ProviderGemini},
}

// DefaultModel is the label used when nothing else is selected.
const DefaultModel = "gpt"

// LookupModel finds a catalog entry by label.
func LookupModel(label string) (ModelInfo, bool) {
	for _, m := range Models {
		if m.Label == label {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ParseModelString parses a model string in "provider:model" format.
// Returns (provider, model, error).
//
// Example:
//
//	provider, model, err := ParseModelString("gpt:gpt-4o")
//	// provider = "gpt", model = "gpt-4o"
func ParseModelString(modelStr string) (string, string, error) {
	parts := strings.SplitN(modelStr, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid model format: %s (expected format: provider:model, e.g., gpt:gpt-4)", modelStr)
	}

	provider := strings.TrimSpace(parts[0])
	model := strings.TrimSpace(parts[1])

	if provider == "" || model == "" {
		return "", "", fmt.Errorf("provider and model cannot be empty")
	}

	return provider, model, nil
}

// FormatModelString formats provider and model into "provider:model" format.
func FormatModelString(provider, model string) string {
	return fmt.Sprintf("%s:%s", provider, model)
}

// ResolveModel accepts either a catalog label ("claude") or an explicit
// "provider:model" string and returns the target to submit to.
func ResolveModel(s string) (ModelInfo, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultModel
	}
	if m, ok := LookupModel(s); ok {
		return m, nil
	}
	if !strings.Contains(s, ":") {
		return ModelInfo{}, fmt.Errorf("unknown model %q (run 'llmrelay models' to list models)", s)
	}
	provider, model, err := ParseModelString(s)
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{Label: model, Name: model, Provider: provider}, nil
}
