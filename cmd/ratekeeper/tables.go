package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"jdhub/ratekeeper/pkg/config"
	"jdhub/ratekeeper/pkg/limits"
	"jdhub/ratekeeper/pkg/limits/ratelimit"
)

// statsTable renders usage statistics as metric/value rows.
type statsTable struct {
	*limits.UsageStats
}

func (t statsTable) Headers() []string { return []string{"metric", "value"} }

func (t statsTable) Rows() [][]string {
	s := t.UsageStats
	rows := [][]string{
		{"service", s.Service},
		{"period_hours", formatFloat(s.PeriodHours)},
		{"total_requests", strconv.Itoa(s.TotalRequests)},
		{"successful_requests", strconv.Itoa(s.SuccessfulRequests)},
		{"failed_requests", strconv.Itoa(s.FailedRequests)},
		{"success_rate", formatFloat(s.SuccessRate)},
		{"total_tokens", strconv.FormatInt(s.TotalTokens, 10)},
		{"total_cost_usd", formatFloat(s.TotalCostUSD)},
		{"requests_per_hour", formatFloat(s.RequestsPerHour)},
		{"tokens_per_hour", formatFloat(s.TokensPerHour)},
		{"cost_per_hour", formatFloat(s.CostPerHour)},
		{"avg_cost_per_request", formatFloat(s.AvgCostPerRequest)},
		{"avg_tokens_per_request", formatFloat(s.AvgTokensPerRequest)},
	}
	if s.AvgResponseTimeMs != nil {
		rows = append(rows, []string{"avg_response_time_ms", formatFloat(*s.AvgResponseTimeMs)})
	}
	for _, model := range slices.Sorted(maps.Keys(s.ByModel)) {
		b := s.ByModel[model]
		rows = append(rows, []string{"model." + model, fmt.Sprintf("%d requests, %d tokens, $%.4f", b.Requests, b.Tokens, b.CostUSD)})
	}
	for _, st := range s.Statuses {
		rows = append(rows, []string{"limit." + string(st.LimitType), formatStatus(st)})
	}
	if s.Error != "" {
		rows = append(rows, []string{"error", s.Error})
	}
	return rows
}

// recommendationsTable renders one row per recommendation.
type recommendationsTable struct {
	*limits.RecommendationsResult
}

func (t recommendationsTable) Headers() []string {
	return []string{"priority", "category", "title", "savings_percent", "difficulty"}
}

func (t recommendationsTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Recommendations))
	for _, r := range t.Recommendations {
		rows = append(rows, []string{
			string(r.Priority),
			string(r.Category),
			r.Title,
			formatFloat(r.EstimatedSavingsPercent),
			string(r.ImplementationDifficulty),
		})
	}
	return rows
}

// limitsTable renders configured limits, one row per service and type.
type limitsTable map[string]config.ServiceLimits

func (t limitsTable) Headers() []string {
	return []string{"service", "type", "limit", "window_seconds", "burst_allowance"}
}

func (t limitsTable) Rows() [][]string {
	var rows [][]string
	for _, service := range slices.Sorted(maps.Keys(t)) {
		limits := t[service]
		for _, name := range slices.Sorted(maps.Keys(limits)) {
			rl := limits[name]
			rows = append(rows, []string{
				service,
				name,
				strconv.Itoa(rl.Limit),
				strconv.Itoa(rl.WindowSeconds),
				formatFloat(rl.BurstAllowance),
			})
		}
	}
	return rows
}

func formatStatus(st ratelimit.RateLimitStatus) string {
	s := fmt.Sprintf("%s/%d", formatFloat(st.CurrentUsage), st.Limit)
	if st.IsExceeded {
		s += " (exceeded)"
	}
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
