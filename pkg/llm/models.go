package llm

import (
	"strings"

	"github.com/tombee/cascade/pkg/errors"
)

// ModelTier represents performance/cost trade-offs for model selection.
type ModelTier string

const (
	// ModelTierFast prioritizes speed and cost-efficiency.
	// Best for simple, instruction-following tasks.
	ModelTierFast ModelTier = "fast"

	// ModelTierStrategic provides maximum capability for complex
	// reasoning, code generation, and judgment tasks.
	ModelTierStrategic ModelTier = "strategic"
)

// ModelAuto is the pseudo model identifier that requests automatic
// selection via SelectModel.
const ModelAuto = "auto"

// ModelInfo describes a specific model's capabilities.
type ModelInfo struct {
	// ID is the provider-specific model identifier.
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// Tier indicates the performance/cost category.
	Tier ModelTier `json:"tier"`

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window"`

	// Description provides additional context about the model's strengths.
	Description string `json:"description,omitempty"`
}

// Registry is the fixed, read-only catalog of models the engine may
// invoke. It is loaded once at startup and shared by reference; no
// mutation path exists after construction.
type Registry struct {
	models []ModelInfo
}

// NewRegistry creates a registry over the given models.
func NewRegistry(models []ModelInfo) *Registry {
	return &Registry{models: models}
}

// DefaultRegistry returns the built-in model catalog.
func DefaultRegistry() *Registry {
	return NewRegistry([]ModelInfo{
		{
			ID:            "kimi-k2-instruct-0905",
			Name:          "Kimi K2 Instruct",
			Tier:          ModelTierFast,
			ContextWindow: 256000,
			Description:   "Best for simple, instruction-following tasks.",
		},
		{
			ID:            "kimi-k2p5",
			Name:          "Kimi K2.5",
			Tier:          ModelTierStrategic,
			ContextWindow: 262000,
			Description:   "Best for complex reasoning and extended thinking.",
		},
	})
}

// List returns all registered models.
func (r *Registry) List() []ModelInfo {
	models := make([]ModelInfo, len(r.models))
	copy(models, r.models)
	return models
}

// Get returns the model with the specified ID.
// Returns a ConfigError if the model is not registered.
func (r *Registry) Get(id string) (*ModelInfo, error) {
	for i := range r.models {
		if r.models[i].ID == id {
			return &r.models[i], nil
		}
	}
	return nil, &errors.ConfigError{
		Key:    "model",
		Reason: "unknown model id: " + id,
	}
}

// Has reports whether the model ID is registered. The ModelAuto
// pseudo-identifier always resolves.
func (r *Registry) Has(id string) bool {
	if id == ModelAuto {
		return true
	}
	_, err := r.Get(id)
	return err == nil
}

// byTier returns the first model in the given tier, falling back to the
// first registered model when the tier is empty.
func (r *Registry) byTier(tier ModelTier) string {
	for i := range r.models {
		if r.models[i].Tier == tier {
			return r.models[i].ID
		}
	}
	if len(r.models) > 0 {
		return r.models[0].ID
	}
	return ""
}

// complexIndicators are prompt fragments that suggest a task needs a
// more capable model.
var complexIndicators = []string{
	"code", "function", "class", "implement", "algorithm",
	"analyze", "reason", "explain why", "step by step",
	"json schema", "validate", "debug", "optimize",
}

// SelectModel resolves the ModelAuto pseudo-identifier to a concrete
// model using prompt-complexity heuristics: long prompts, code or
// judgment criteria, and reasoning keywords all point at the strategic
// tier, everything else at the fast tier. Concrete identifiers pass
// through unchanged.
func (r *Registry) SelectModel(model, prompt, criteriaType string) string {
	if model != ModelAuto {
		return model
	}

	complex := len(prompt) > 1000

	switch criteriaType {
	case "llm_judge", "json_valid", "code_block":
		complex = true
	}

	if !complex {
		lower := strings.ToLower(prompt)
		for _, indicator := range complexIndicators {
			if strings.Contains(lower, indicator) {
				complex = true
				break
			}
		}
	}

	if complex {
		return r.byTier(ModelTierStrategic)
	}
	return r.byTier(ModelTierFast)
}
