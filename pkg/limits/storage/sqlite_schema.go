package storage

// SchemaVersion is the usage table layout this package creates.
const SchemaVersion = 1

const createUsageTableSQL = `
CREATE TABLE IF NOT EXISTS api_usage (
	id TEXT PRIMARY KEY,
	service_type TEXT NOT NULL,
	operation_type TEXT NOT NULL,
	model_name TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 1,
	timestamp INTEGER NOT NULL,
	user_id TEXT,
	response_time_ms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_api_usage_service_time ON api_usage(service_type, timestamp);
`

const createSchemaVersionSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`

const insertSchemaVersionSQL = `
INSERT OR IGNORE INTO schema_version (version, applied_at)
VALUES (?, ?);
`

const usageTableExistsSQL = `
SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'api_usage';
`

const usageTableInfoSQL = `PRAGMA table_info(api_usage);`

// requiredColumns must be present for the store to read or write rows.
var requiredColumns = []string{
	"id",
	"service_type",
	"operation_type",
	"model_name",
	"input_tokens",
	"output_tokens",
	"total_tokens",
	"cost_usd",
	"success",
	"timestamp",
	"user_id",
}

// optionalColumns are read when present and skipped otherwise.
var optionalColumns = []string{
	FieldResponseTimeMs,
}
