package pricing

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"jdhub/ratekeeper/pkg/config"
)

// DefaultModel is the pricing entry used for unknown models.
const DefaultModel = "default"

// ModelPricing contains pricing information for a specific model.
type ModelPricing struct {
	// Model is the model identifier that was priced.
	Model string `json:"model"`

	// InputPer1K is the cost per 1000 input tokens in USD.
	InputPer1K float64 `json:"input_per_1k"`

	// OutputPer1K is the cost per 1000 output tokens in USD.
	OutputPer1K float64 `json:"output_per_1k"`

	// Currency is always "USD".
	Currency string `json:"currency"`
}

// Blended returns input plus output price per 1K tokens.
func (p *ModelPricing) Blended() float64 {
	return p.InputPer1K + p.OutputPer1K
}

// Calculator prices model usage. It is thread-safe and supports
// hot-reload of pricing configuration.
type Calculator struct {
	config *config.PricingConfig
	mu     sync.RWMutex
}

// NewCalculator creates a calculator for the given pricing configuration.
func NewCalculator(cfg *config.PricingConfig) *Calculator {
	return &Calculator{config: cfg}
}

// GetModelPricing returns pricing for model. It tries an exact match, then
// the longest configured prefix (so "gpt-4o-mini-2024" prices as
// "gpt-4o-mini", not "gpt-4"), then the default entry.
func (c *Calculator) GetModelPricing(model string) (*ModelPricing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.config.Models[model]; ok {
		return newModelPricing(model, p), nil
	}

	best := ""
	for pattern := range c.config.Models {
		if pattern != DefaultModel && strings.HasPrefix(model, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" {
		return newModelPricing(model, c.config.Models[best]), nil
	}

	if p, ok := c.config.Models[DefaultModel]; ok {
		return newModelPricing(model, p), nil
	}

	return nil, fmt.Errorf("no pricing found for model %q", model)
}

// Calculate returns the USD cost of a call.
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int64) (float64, error) {
	p, err := c.GetModelPricing(model)
	if err != nil {
		return 0, err
	}
	return calculateTokenCost(inputTokens, p.InputPer1K) + calculateTokenCost(outputTokens, p.OutputPer1K), nil
}

// IsPremium reports whether model's blended price reaches the premium
// threshold. Unpriced models are not premium.
func (c *Calculator) IsPremium(model string) bool {
	p, err := c.GetModelPricing(model)
	if err != nil {
		return false
	}

	c.mu.RLock()
	threshold := c.config.PremiumThresholdPer1K
	c.mu.RUnlock()

	return p.Blended() >= threshold
}

// CheapestAlternative returns the cheapest configured non-premium model.
// It reports false when no such model exists.
func (c *Calculator) CheapestAlternative() (*ModelPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.config.Models))
	for name := range c.config.Models {
		if name != DefaultModel {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var cheapest *ModelPricing
	for _, name := range names {
		p := newModelPricing(name, c.config.Models[name])
		if p.Blended() >= c.config.PremiumThresholdPer1K {
			continue
		}
		if cheapest == nil || p.Blended() < cheapest.Blended() {
			cheapest = p
		}
	}
	return cheapest, cheapest != nil
}

// SavingsPercent returns the rounded percentage saved by pricing calls at
// to instead of from, capped at 90. Returns 0 when to is not cheaper.
func (c *Calculator) SavingsPercent(from, to string) float64 {
	fp, err := c.GetModelPricing(from)
	if err != nil || fp.Blended() <= 0 {
		return 0
	}
	tp, err := c.GetModelPricing(to)
	if err != nil {
		return 0
	}

	savings := (1 - tp.Blended()/fp.Blended()) * 100
	if savings <= 0 {
		return 0
	}
	return math.Min(math.Round(savings), 90)
}

// UpdatePricing replaces the pricing configuration.
// This is thread-safe and can be called while the calculator is in use.
func (c *Calculator) UpdatePricing(cfg *config.PricingConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = cfg
}

func newModelPricing(model string, p config.ModelPricingConfig) *ModelPricing {
	return &ModelPricing{
		Model:       model,
		InputPer1K:  p.InputPer1K,
		OutputPer1K: p.OutputPer1K,
		Currency:    "USD",
	}
}

// calculateTokenCost prices tokens at a per-1K rate.
func calculateTokenCost(tokens int64, per1K float64) float64 {
	return float64(tokens) / 1000.0 * per1K
}
