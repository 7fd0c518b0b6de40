package llm

import (
	"strings"
	"testing"

	"github.com/tombee/cascade/pkg/errors"
)

func TestRegistry_Get(t *testing.T) {
	registry := DefaultRegistry()

	model, err := registry.Get("kimi-k2p5")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if model.Tier != ModelTierStrategic {
		t.Errorf("Tier = %q, want strategic", model.Tier)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	registry := DefaultRegistry()

	_, err := registry.Get("gpt-nonexistent")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}

	var cfgErr *errors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError, got %T", err)
	}
}

func TestRegistry_Has(t *testing.T) {
	registry := DefaultRegistry()

	if !registry.Has("kimi-k2p5") {
		t.Error("registered model should be found")
	}
	if !registry.Has(ModelAuto) {
		t.Error("auto pseudo-model should always resolve")
	}
	if registry.Has("bogus") {
		t.Error("unregistered model should not be found")
	}
}

func TestRegistry_SelectModel(t *testing.T) {
	registry := DefaultRegistry()

	tests := []struct {
		name         string
		model        string
		prompt       string
		criteriaType string
		wantTier     ModelTier
	}{
		{
			name:         "concrete model passes through",
			model:        "kimi-k2p5",
			prompt:       "hi",
			criteriaType: "always_pass",
		},
		{
			name:         "short simple prompt picks fast tier",
			model:        ModelAuto,
			prompt:       "Say hello.",
			criteriaType: "always_pass",
			wantTier:     ModelTierFast,
		},
		{
			name:         "code generation picks strategic tier",
			model:        ModelAuto,
			prompt:       "Write a function that reverses a list.",
			criteriaType: "always_pass",
			wantTier:     ModelTierStrategic,
		},
		{
			name:         "judge criteria picks strategic tier",
			model:        ModelAuto,
			prompt:       "Summarize this.",
			criteriaType: "llm_judge",
			wantTier:     ModelTierStrategic,
		},
		{
			name:         "long prompt picks strategic tier",
			model:        ModelAuto,
			prompt:       strings.Repeat("word ", 300),
			criteriaType: "always_pass",
			wantTier:     ModelTierStrategic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := registry.SelectModel(tt.model, tt.prompt, tt.criteriaType)

			if tt.model != ModelAuto {
				if got != tt.model {
					t.Errorf("SelectModel() = %q, want passthrough %q", got, tt.model)
				}
				return
			}

			info, err := registry.Get(got)
			if err != nil {
				t.Fatalf("selected model %q not in registry", got)
			}
			if info.Tier != tt.wantTier {
				t.Errorf("selected tier = %q, want %q", info.Tier, tt.wantTier)
			}
		})
	}
}
