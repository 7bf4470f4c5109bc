package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"jdhub/ratekeeper/pkg/config"
	"jdhub/ratekeeper/pkg/limits/storage"
	"jdhub/ratekeeper/pkg/pricing"
)

// Priority ranks a recommendation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Category groups recommendations.
type Category string

const (
	CategoryCostReduction  Category = "cost_reduction"
	CategoryModelSelection Category = "model_selection"
	CategoryReliability    Category = "reliability"
	CategoryBatching       Category = "batching"
	CategoryBudget         Category = "budget"
)

// Difficulty estimates implementation effort.
type Difficulty string

const (
	DifficultyLow    Difficulty = "low"
	DifficultyMedium Difficulty = "medium"
	DifficultyHigh   Difficulty = "high"
)

// Recommendation is one actionable cost or reliability suggestion.
type Recommendation struct {
	Category                 Category   `json:"category"`
	Priority                 Priority   `json:"priority"`
	Title                    string     `json:"title"`
	Description              string     `json:"description"`
	EstimatedSavingsPercent  float64    `json:"estimated_savings_percent"`
	ImplementationDifficulty Difficulty `json:"implementation_difficulty"`
}

// Thresholds tune when each rule fires.
type Thresholds struct {
	HighCostPerRequest       float64
	FailureRateThreshold     float64
	SimpleOperationMaxTokens int64
	SmallRequestMaxTokens    int64
	BatchingMinRequests      int
	BudgetWarningRatio       float64
}

// ThresholdsFromConfig copies thresholds from analytics configuration.
func ThresholdsFromConfig(cfg *config.AnalyticsConfig) Thresholds {
	return Thresholds{
		HighCostPerRequest:       cfg.HighCostPerRequest,
		FailureRateThreshold:     cfg.FailureRateThreshold,
		SimpleOperationMaxTokens: cfg.SimpleOperationMaxTokens,
		SmallRequestMaxTokens:    cfg.SmallRequestMaxTokens,
		BatchingMinRequests:      cfg.BatchingMinRequests,
		BudgetWarningRatio:       cfg.BudgetWarningRatio,
	}
}

// DefaultThresholds returns the configuration defaults.
func DefaultThresholds() Thresholds {
	return ThresholdsFromConfig(&config.Default().Analytics)
}

// ModelAdvisor classifies models by price. *pricing.Calculator implements it.
type ModelAdvisor interface {
	IsPremium(model string) bool
	CheapestAlternative() (*pricing.ModelPricing, bool)
	SavingsPercent(from, to string) float64
}

// Input is the usage history recommendations are derived from.
type Input struct {
	// Records is the usage history, any order.
	Records []*storage.UsageRecord

	// DailyCostLimit is the configured cost_per_day limit in USD, or 0.
	DailyCostLimit float64

	// Now anchors the trailing 24h budget window.
	Now time.Time
}

// Recommend evaluates every rule against in and returns the ones whose
// pattern is present, high priority first. A nil advisor skips the model
// selection rule. No records yield no recommendations.
func Recommend(in Input, th Thresholds, advisor ModelAdvisor) []Recommendation {
	recs := make([]Recommendation, 0)
	if len(in.Records) == 0 {
		return recs
	}

	summary := Summarize(in.Records, 0, false)

	if r, ok := highCostRule(summary, th); ok {
		recs = append(recs, r)
	}
	if advisor != nil {
		if r, ok := modelSelectionRule(in.Records, th, advisor); ok {
			recs = append(recs, r)
		}
	}
	if r, ok := reliabilityRule(summary, th); ok {
		recs = append(recs, r)
	}
	if r, ok := batchingRule(summary, th); ok {
		recs = append(recs, r)
	}
	if r, ok := budgetRule(in, th); ok {
		recs = append(recs, r)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.rank() < recs[j].Priority.rank()
	})
	return recs
}

// highCostRule fires when the average request costs more than the threshold.
func highCostRule(s Summary, th Thresholds) (Recommendation, bool) {
	if th.HighCostPerRequest <= 0 || s.AvgCostPerRequest <= th.HighCostPerRequest {
		return Recommendation{}, false
	}

	savings := math.Min(math.Round((1-th.HighCostPerRequest/s.AvgCostPerRequest)*100), 50)
	return Recommendation{
		Category: CategoryCostReduction,
		Priority: PriorityHigh,
		Title:    "Reduce average cost per request",
		Description: fmt.Sprintf(
			"Requests average $%.4f each, above the $%.4f target. Trim prompts, cap output tokens, or cache repeated calls.",
			s.AvgCostPerRequest, th.HighCostPerRequest),
		EstimatedSavingsPercent:  savings,
		ImplementationDifficulty: DifficultyMedium,
	}, true
}

// modelSelectionRule fires when most premium-model calls are simple.
func modelSelectionRule(records []*storage.UsageRecord, th Thresholds, advisor ModelAdvisor) (Recommendation, bool) {
	alt, ok := advisor.CheapestAlternative()
	if !ok {
		return Recommendation{}, false
	}

	premium := 0
	simple := make(map[string]int)
	for _, r := range records {
		if r.ModelName == "" || !advisor.IsPremium(r.ModelName) {
			continue
		}
		premium++
		if r.TotalTokens <= th.SimpleOperationMaxTokens {
			simple[r.ModelName]++
		}
	}

	simpleTotal := 0
	topModel, topCount := "", 0
	for model, n := range simple {
		simpleTotal += n
		if n > topCount || (n == topCount && model < topModel) {
			topModel, topCount = model, n
		}
	}
	if premium == 0 || simpleTotal*2 <= premium {
		return Recommendation{}, false
	}

	savings := advisor.SavingsPercent(topModel, alt.Model)
	if savings <= 0 {
		return Recommendation{}, false
	}

	return Recommendation{
		Category: CategoryModelSelection,
		Priority: PriorityHigh,
		Title:    "Use a cheaper model for simple operations",
		Description: fmt.Sprintf(
			"%d of %d premium-model calls used at most %d tokens, mostly on %s. Route these to %s.",
			simpleTotal, premium, th.SimpleOperationMaxTokens, topModel, alt.Model),
		EstimatedSavingsPercent:  savings,
		ImplementationDifficulty: DifficultyLow,
	}, true
}

// reliabilityRule fires when too many calls failed or were rejected.
func reliabilityRule(s Summary, th Thresholds) (Recommendation, bool) {
	if s.TotalRequests == 0 {
		return Recommendation{}, false
	}
	failureRate := float64(s.FailedRequests) / float64(s.TotalRequests)
	if failureRate <= th.FailureRateThreshold {
		return Recommendation{}, false
	}

	return Recommendation{
		Category: CategoryReliability,
		Priority: PriorityMedium,
		Title:    "Reduce failed and rate-limited calls",
		Description: fmt.Sprintf(
			"%.1f%% of calls failed (%d of %d). Honor recommended retry delays and add backoff before retrying.",
			failureRate*100, s.FailedRequests, s.TotalRequests),
		EstimatedSavingsPercent:  math.Min(math.Round(failureRate*100), 90),
		ImplementationDifficulty: DifficultyMedium,
	}, true
}

// batchingRule fires on many small requests.
func batchingRule(s Summary, th Thresholds) (Recommendation, bool) {
	if th.BatchingMinRequests <= 0 || s.TotalRequests < th.BatchingMinRequests {
		return Recommendation{}, false
	}
	if s.AvgTokensPerRequest > float64(th.SmallRequestMaxTokens) {
		return Recommendation{}, false
	}

	return Recommendation{
		Category: CategoryBatching,
		Priority: PriorityMedium,
		Title:    "Batch small requests",
		Description: fmt.Sprintf(
			"%d requests averaged %.0f tokens each. Combining them reduces per-request overhead and request-rate pressure.",
			s.TotalRequests, s.AvgTokensPerRequest),
		EstimatedSavingsPercent:  15,
		ImplementationDifficulty: DifficultyMedium,
	}, true
}

// budgetRule fires when the trailing 24h spend nears the daily limit.
func budgetRule(in Input, th Thresholds) (Recommendation, bool) {
	if in.DailyCostLimit <= 0 {
		return Recommendation{}, false
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	since := now.Add(-24 * time.Hour)

	var spent float64
	for _, r := range in.Records {
		if !r.Timestamp.Before(since) {
			spent += r.CostUSD
		}
	}

	ratio := spent / in.DailyCostLimit
	if ratio < th.BudgetWarningRatio {
		return Recommendation{}, false
	}

	return Recommendation{
		Category: CategoryBudget,
		Priority: PriorityHigh,
		Title:    "Daily cost limit nearly reached",
		Description: fmt.Sprintf(
			"$%.2f spent in the last 24 hours, %.0f%% of the $%.2f daily limit. Defer non-critical work or raise the limit.",
			spent, ratio*100, in.DailyCostLimit),
		EstimatedSavingsPercent:  0,
		ImplementationDifficulty: DifficultyLow,
	}, true
}
