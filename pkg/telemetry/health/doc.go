// Package health provides liveness, readiness and version endpoints.
//
// Readiness runs every registered component check concurrently, each
// bounded by a timeout:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("store", func(ctx context.Context) error {
//	    _, err := store.Query(ctx, "", time.Now())
//	    return err
//	})
//	r.Get("/health", checker.LivenessHandler())
//	r.Get("/ready", checker.ReadinessHandler())
package health
