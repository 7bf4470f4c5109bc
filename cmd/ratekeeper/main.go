// Ratekeeper enforces rate limits and cost budgets on calls to external
// APIs such as LLM providers.
//
// It exposes an HTTP API that callers consult before each external call and
// report to afterwards:
//   - Per-service limits on requests, tokens and spend
//   - Durable usage records in memory or SQLite
//   - Usage statistics and cost optimization recommendations
//   - Prometheus metrics and OpenTelemetry tracing
//
// Usage:
//
//	# Start the server with default configuration
//	ratekeeper run
//
//	# Start with a custom configuration file
//	ratekeeper run --config /etc/ratekeeper/config.yaml
//
//	# Validate a configuration file
//	ratekeeper validate --config config.yaml
//
//	# Show usage statistics from the configured store
//	ratekeeper stats openai --period 24h
//
//	# Show cost optimization recommendations
//	ratekeeper recommend openai
package main

func main() {
	Execute()
}
