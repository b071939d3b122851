package observer

// ModelPricing holds per-million-token pricing for a model, in USD.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing covers the DashScope qwen family plus the usual local
// models, which cost nothing. Users can override or extend via
// [observer.pricing] in qanat.toml.
var DefaultPricing = map[string]ModelPricing{
	// DashScope
	"qwen-max":   {1.60, 6.40},
	"qwen-plus":  {0.40, 1.20},
	"qwen-turbo": {0.05, 0.20},
	"qwen-long":  {0.50, 2.00},

	"text-embedding-v3": {0.07, 0.0},
	"text-embedding-v4": {0.07, 0.0},

	// Local models via Ollama
	"qwen2.5:7b":       {0.0, 0.0},
	"qwen2.5:14b":      {0.0, 0.0},
	"deepseek-r1:7b":   {0.0, 0.0},
	"nomic-embed-text": {0.0, 0.0},
}

// CostCalculator computes USD cost from token counts.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator creates a calculator with default pricing, optionally merged with overrides.
func NewCostCalculator(overrides map[string]ModelPricing) *CostCalculator {
	merged := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostCalculator{pricing: merged}
}

// Calculate returns the cost in USD for the given model and token counts.
// Returns 0.0 for unknown models.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0.0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
