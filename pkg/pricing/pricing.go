// Package pricing provides cost estimation for inference calls.
package pricing

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// ModelPrice is the per-million-token price for one model, split by
// direction, in USD.
type ModelPrice struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// PriceTable maps model identifiers to their token prices.
type PriceTable struct {
	PerModel map[string]ModelPrice `json:"per_model"`
}

// DefaultPrices returns list pricing for the Gemini API (as of late 2025).
// These are approximate prices and should be updated regularly.
func DefaultPrices() PriceTable {
	return PriceTable{
		PerModel: map[string]ModelPrice{
			"gemini-2.5-flash":       {InputPerMillion: 0.30, OutputPerMillion: 2.50},
			"gemini-2.5-flash-lite":  {InputPerMillion: 0.10, OutputPerMillion: 0.40},
			"gemini-2.5-pro":         {InputPerMillion: 1.25, OutputPerMillion: 10.00},
			"gemini-3-flash-preview": {InputPerMillion: 0.30, OutputPerMillion: 2.50},
		},
	}
}

// LoadPriceTable loads a price table from a JSON file.
func LoadPriceTable(path string) (PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PriceTable{}, fmt.Errorf("read price table: %w", err)
	}

	var pt PriceTable
	if err := json.Unmarshal(data, &pt); err != nil {
		return PriceTable{}, fmt.Errorf("parse price table: %w", err)
	}
	return pt, nil
}

// SavePriceTable saves a price table to a JSON file.
func SavePriceTable(path string, pt PriceTable) error {
	data, err := json.MarshalIndent(pt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal price table: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write price table: %w", err)
	}
	return nil
}

const tokensPerMillion = 1_000_000

// ComputeCost returns the cost of one call in microdollars
// (1 USD = 1,000,000 microdollars). Unknown models cost zero; callers that
// need billing accuracy load an explicit table covering their model.
func (pt PriceTable) ComputeCost(model string, inputTokens, outputTokens int) int64 {
	price, ok := pt.PerModel[model]
	if !ok {
		return 0
	}

	// price is USD per million tokens, so microdollars = tokens * price.
	in := float64(inputTokens) * price.InputPerMillion * 1_000_000 / tokensPerMillion
	out := float64(outputTokens) * price.OutputPerMillion * 1_000_000 / tokensPerMillion
	return int64(in + out)
}
