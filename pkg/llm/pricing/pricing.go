// Package pricing provides the per-model rate table used for cost
// accounting. Rates are loaded once at startup (built-in defaults,
// optionally overridden from a YAML file) and are read-only afterwards.
package pricing

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/cascade/pkg/errors"
)

// ModelPricing contains pricing information for a specific model.
type ModelPricing struct {
	// Model is the model identifier.
	Model string `yaml:"model" json:"model"`

	// InputPricePerMillion is the cost per million prompt tokens in USD.
	InputPricePerMillion float64 `yaml:"input_price_per_million" json:"input_price_per_million"`

	// OutputPricePerMillion is the cost per million completion tokens in USD.
	OutputPricePerMillion float64 `yaml:"output_price_per_million" json:"output_price_per_million"`

	// EffectiveDate is when this pricing became effective.
	EffectiveDate time.Time `yaml:"effective_date" json:"effective_date"`
}

// Config contains all pricing information.
type Config struct {
	// Version is the pricing configuration version.
	Version string `yaml:"version" json:"version"`

	// Models contains pricing for all models.
	Models []ModelPricing `yaml:"models" json:"models"`
}

// Table resolves model identifiers to rates and computes request costs.
// It is immutable after construction and safe for concurrent reads.
type Table struct {
	byModel map[string]ModelPricing
}

// NewTable creates a table with the built-in default rates.
func NewTable() *Table {
	return newTableFromConfig(builtInPricing())
}

// NewTableFromFile creates a table from built-in defaults merged with a
// user YAML file. Rates in the file take precedence for matching model
// identifiers; models only present in the file are added. A missing
// file is not an error.
func NewTableFromFile(path string) (*Table, error) {
	table := NewTable()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return nil, fmt.Errorf("failed to read pricing config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &errors.ConfigError{
			Key:    "pricing",
			Reason: "failed to parse pricing config",
			Cause:  err,
		}
	}

	for _, mp := range cfg.Models {
		table.byModel[mp.Model] = mp
	}

	return table, nil
}

func newTableFromConfig(cfg *Config) *Table {
	byModel := make(map[string]ModelPricing, len(cfg.Models))
	for _, mp := range cfg.Models {
		byModel[mp.Model] = mp
	}
	return &Table{byModel: byModel}
}

// Get returns pricing for a specific model, or nil if unknown.
func (t *Table) Get(model string) *ModelPricing {
	mp, ok := t.byModel[model]
	if !ok {
		return nil
	}
	return &mp
}

// Cost computes the USD cost of one request from token counts. An
// unknown model identifier is a configuration error: the engine must
// not silently account a request at a guessed rate.
func (t *Table) Cost(model string, promptTokens, completionTokens int) (float64, error) {
	mp, ok := t.byModel[model]
	if !ok {
		return 0, &errors.ConfigError{
			Key:    "model",
			Reason: fmt.Sprintf("no pricing for model %q", model),
		}
	}

	inputCost := float64(promptTokens) / 1_000_000.0 * mp.InputPricePerMillion
	outputCost := float64(completionTokens) / 1_000_000.0 * mp.OutputPricePerMillion
	return inputCost + outputCost, nil
}

// FormatCost formats a cost value for display.
func FormatCost(usd float64) string {
	return fmt.Sprintf("$%.6f", usd)
}
