package analytics

import (
	"time"

	"jdhub/ratekeeper/pkg/limits/storage"
)

// Breakdown aggregates usage for one operation or model.
type Breakdown struct {
	Requests int     `json:"requests"`
	Tokens   int64   `json:"tokens"`
	CostUSD  float64 `json:"cost_usd"`
}

// Summary aggregates usage records over a period.
type Summary struct {
	TotalRequests      int `json:"total_requests"`
	SuccessfulRequests int `json:"successful_requests"`
	FailedRequests     int `json:"failed_requests"`

	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`

	RequestsPerHour float64 `json:"requests_per_hour"`
	TokensPerHour   float64 `json:"tokens_per_hour"`
	CostPerHour     float64 `json:"cost_per_hour"`

	AvgCostPerRequest   float64 `json:"avg_cost_per_request"`
	AvgTokensPerRequest float64 `json:"avg_tokens_per_request"`
	SuccessRate         float64 `json:"success_rate"`

	// AvgResponseTimeMs is nil when no record carries a response time or
	// the store does not keep them.
	AvgResponseTimeMs *float64 `json:"avg_response_time_ms"`

	ByOperation map[string]*Breakdown `json:"by_operation"`
	ByModel     map[string]*Breakdown `json:"by_model"`
}

// Summarize aggregates records over period. Per-hour rates divide by the
// period, not by the span of the records. Response times are averaged only
// when withResponseTime is set.
func Summarize(records []*storage.UsageRecord, period time.Duration, withResponseTime bool) Summary {
	s := Summary{
		ByOperation: make(map[string]*Breakdown),
		ByModel:     make(map[string]*Breakdown),
	}

	var (
		rtSum   int64
		rtCount int
	)
	for _, r := range records {
		s.TotalRequests++
		if r.Success {
			s.SuccessfulRequests++
		} else {
			s.FailedRequests++
		}
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.TotalTokens += r.TotalTokens
		s.TotalCostUSD += r.CostUSD

		addBreakdown(s.ByOperation, r.OperationType, r)
		model := r.ModelName
		if model == "" {
			model = "unknown"
		}
		addBreakdown(s.ByModel, model, r)

		if withResponseTime && r.ResponseTimeMs != nil {
			rtSum += *r.ResponseTimeMs
			rtCount++
		}
	}

	if hours := period.Hours(); hours > 0 {
		s.RequestsPerHour = float64(s.TotalRequests) / hours
		s.TokensPerHour = float64(s.TotalTokens) / hours
		s.CostPerHour = s.TotalCostUSD / hours
	}
	if s.TotalRequests > 0 {
		s.AvgCostPerRequest = s.TotalCostUSD / float64(s.TotalRequests)
		s.AvgTokensPerRequest = float64(s.TotalTokens) / float64(s.TotalRequests)
		s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
	}
	if rtCount > 0 {
		avg := float64(rtSum) / float64(rtCount)
		s.AvgResponseTimeMs = &avg
	}

	return s
}

func addBreakdown(m map[string]*Breakdown, key string, r *storage.UsageRecord) {
	b, ok := m[key]
	if !ok {
		b = &Breakdown{}
		m[key] = b
	}
	b.Requests++
	b.Tokens += r.TotalTokens
	b.CostUSD += r.CostUSD
}
