// Package server exposes the rate-limiting engine over HTTP.
//
// # Endpoints
//
//	POST   /v1/limits/check                      check and reserve estimated usage (200 or 429)
//	POST   /v1/limits/usage                      record measured usage (202)
//	GET    /v1/limits                            list configured services
//	GET    /v1/limits/{service}                  limits and live statuses
//	PUT    /v1/limits/{service}                  partial limit update (204)
//	GET    /v1/limits/{service}/stats            usage statistics (?period_hours=)
//	GET    /v1/limits/{service}/recommendations  cost optimization advice
//	GET    /v1/limits/{service}/delay            recommended retry delay
//	DELETE /v1/limits/{service}/reservations/{id} release an unused reservation (204)
//	GET    /health, /ready, /version, /metrics
//
// A denied check responds 429 with a Retry-After header in whole seconds.
// An allowed check returns a reservation_id; pass it back with the usage
// so the measured amounts replace the reserved estimate. Services without
// configured limits are always allowed.
//
// # Middleware
//
// Requests pass through recovery, request ID, tracing, logging and metrics
// middleware in that order. HTTP metrics are labeled by chi route pattern.
//
// # TLS
//
// When server.tls.enabled is set the listener serves HTTPS with the
// configured certificate. The minimum version is TLS 1.3 unless "1.2" is
// configured. Expired or not yet valid certificates are rejected at start.
//
// # Usage
//
//	srv, err := server.New(&cfg.Server, server.Deps{
//	    Limits:  svc,
//	    Pricing: calc,
//	    Metrics: collector,
//	    Health:  checker,
//	})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx) // blocks until ctx is cancelled
package server
