package pricing

import "time"

// builtInPricing returns the default rate table.
// Rates are USD per million tokens as of the effective date.
func builtInPricing() *Config {
	effectiveDate := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	return &Config{
		Version: "1.0",
		Models: []ModelPricing{
			{
				Model:                 "kimi-k2-instruct-0905",
				InputPricePerMillion:  0.15,
				OutputPricePerMillion: 0.60,
				EffectiveDate:         effectiveDate,
			},
			{
				Model:                 "kimi-k2p5",
				InputPricePerMillion:  0.15,
				OutputPricePerMillion: 0.60,
				EffectiveDate:         effectiveDate,
			},
			{
				Model:                 "gpt-4o",
				InputPricePerMillion:  2.50,
				OutputPricePerMillion: 10.00,
				EffectiveDate:         effectiveDate,
			},
			{
				Model:                 "gpt-4o-mini",
				InputPricePerMillion:  0.15,
				OutputPricePerMillion: 0.60,
				EffectiveDate:         effectiveDate,
			},
		},
	}
}
