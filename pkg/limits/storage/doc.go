// Package storage provides durable stores for usage records.
//
// # Overview
//
// The engine appends one UsageRecord per completed external call and reads
// them back by service and time range for analytics. Two implementations
// are provided:
//
//   - Memory: bounded in-process storage (default, no persistence)
//   - SQLite: file-based persistence on an api_usage table, using either the
//     pure-Go "sqlite" driver or the cgo "sqlite3" driver
//
// # Usage
//
//	store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
//	    Path:   "data/usage.db",
//	    Driver: storage.DriverModernc,
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	record := storage.NewUsageRecord("openai", "summarize", "gpt-4", 900, 300, 0.045)
//	if err := store.Append(ctx, record); err != nil {
//	    return err
//	}
//	records, err := store.Query(ctx, "openai", time.Now().Add(-24*time.Hour))
//
// # Optional Fields
//
// Stores may lack optional analytic fields such as response_time_ms. Such
// stores implement FieldReporter so readers can degrade instead of failing.
package storage
