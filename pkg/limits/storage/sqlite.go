package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver (cgo)
	_ "modernc.org/sqlite"          // "sqlite" driver (pure Go)
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// SQLiteStore implements Store on a SQLite api_usage table.
//
// A new database gets the full schema. An existing table is inspected
// instead of altered: if a required column is missing every operation
// fails with ErrSchemaMismatch, and if response_time_ms is missing rows are
// read without it and HasField reports false.
//
// SQLiteStore uses a write-ahead log (WAL) and checkpoints it periodically.
type SQLiteStore struct {
	db                 *sql.DB
	path               string
	checkpointInterval time.Duration
	columns            map[string]bool
	schemaErr          error
	logger             *slog.Logger
	done               chan struct{}
	closeOnce          sync.Once

	appendStmt *sql.Stmt
	queryStmt  *sql.Stmt
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	Path string

	// Driver selects the database/sql driver: "sqlite" or "sqlite3".
	// Default: "sqlite"
	Driver string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// NewSQLiteStore opens (creating if needed) the usage database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens the usage database with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		path:               cfg.Path,
		checkpointInterval: cfg.CheckpointInterval,
		logger:             slog.Default().With("component", "limits.storage.sqlite"),
		done:               make(chan struct{}),
	}

	if err := s.configure(cfg.BusyTimeout); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	go s.checkpointLoop()

	return s, nil
}

// configure applies connection pragmas.
func (s *SQLiteStore) configure(busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return NewStorageError("sqlite", "configure", err)
		}
	}
	return nil
}

// initSchema creates the usage table on a fresh database and detects the
// columns of an existing one.
func (s *SQLiteStore) initSchema() error {
	var count int
	if err := s.db.QueryRow(usageTableExistsSQL).Scan(&count); err != nil {
		return NewStorageError("sqlite", "inspect_schema", err)
	}

	if count == 0 {
		if _, err := s.db.Exec(createUsageTableSQL); err != nil {
			return NewStorageError("sqlite", "create_schema", err)
		}
		if _, err := s.db.Exec(createSchemaVersionSQL); err != nil {
			return NewStorageError("sqlite", "create_schema_version", err)
		}
		if _, err := s.db.Exec(insertSchemaVersionSQL, SchemaVersion, time.Now().Unix()); err != nil {
			return NewStorageError("sqlite", "insert_schema_version", err)
		}
	}

	columns, err := s.detectColumns()
	if err != nil {
		return err
	}
	s.columns = columns

	var missing []string
	for _, c := range requiredColumns {
		if !columns[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		s.schemaErr = fmt.Errorf("%w: missing columns %s", ErrSchemaMismatch, strings.Join(missing, ", "))
		s.logger.Error("usage table is missing required columns", "path", s.path, "missing", missing)
	}
	for _, c := range optionalColumns {
		if !columns[c] {
			s.logger.Warn("usage table is missing optional column", "path", s.path, "column", c)
		}
	}

	return nil
}

// detectColumns reads the api_usage column names.
func (s *SQLiteStore) detectColumns() (map[string]bool, error) {
	rows, err := s.db.Query(usageTableInfoSQL)
	if err != nil {
		return nil, NewStorageError("sqlite", "table_info", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, NewStorageError("sqlite", "table_info", err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "table_info", err)
	}
	return columns, nil
}

// prepareStatements prepares SQL statements for reuse. Nothing is prepared
// for a mismatched schema.
func (s *SQLiteStore) prepareStatements() error {
	if s.schemaErr != nil {
		return nil
	}

	insertCols := append([]string(nil), requiredColumns...)
	selectCols := append([]string(nil), requiredColumns...)
	if s.columns[FieldResponseTimeMs] {
		insertCols = append(insertCols, FieldResponseTimeMs)
		selectCols = append(selectCols, FieldResponseTimeMs)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(insertCols)), ", ")

	var err error
	s.appendStmt, err = s.db.Prepare(fmt.Sprintf(
		"INSERT INTO api_usage (%s) VALUES (%s)",
		strings.Join(insertCols, ", "), placeholders,
	))
	if err != nil {
		return NewStorageError("sqlite", "prepare_append", err)
	}

	s.queryStmt, err = s.db.Prepare(fmt.Sprintf(
		"SELECT %s FROM api_usage WHERE service_type = ? AND timestamp >= ? ORDER BY timestamp ASC, rowid ASC",
		strings.Join(selectCols, ", "),
	))
	if err != nil {
		return NewStorageError("sqlite", "prepare_query", err)
	}

	return nil
}

// Append inserts one usage record.
func (s *SQLiteStore) Append(ctx context.Context, record *UsageRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if s.schemaErr != nil {
		return NewStorageError("sqlite", "append", s.schemaErr)
	}

	args := []any{
		record.ID,
		record.ServiceType,
		record.OperationType,
		nullString(record.ModelName),
		record.InputTokens,
		record.OutputTokens,
		record.TotalTokens,
		record.CostUSD,
		boolToInt(record.Success),
		record.Timestamp.UnixMilli(),
		nullString(record.UserID),
	}
	if s.columns[FieldResponseTimeMs] {
		var rt sql.NullInt64
		if record.ResponseTimeMs != nil {
			rt = sql.NullInt64{Int64: *record.ResponseTimeMs, Valid: true}
		}
		args = append(args, rt)
	}

	if _, err := s.appendStmt.ExecContext(ctx, args...); err != nil {
		return NewStorageError("sqlite", "append", err)
	}
	return nil
}

// Query returns records for service with timestamp >= since.
func (s *SQLiteStore) Query(ctx context.Context, service string, since time.Time) ([]*UsageRecord, error) {
	if s.schemaErr != nil {
		return nil, NewStorageError("sqlite", "query", s.schemaErr)
	}

	rows, err := s.queryStmt.QueryContext(ctx, service, since.UnixMilli())
	if err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	hasResponseTime := s.columns[FieldResponseTimeMs]
	records := make([]*UsageRecord, 0)
	for rows.Next() {
		var (
			r         UsageRecord
			model     sql.NullString
			userID    sql.NullString
			success   int
			timestamp int64
			rt        sql.NullInt64
		)
		dest := []any{
			&r.ID, &r.ServiceType, &r.OperationType, &model,
			&r.InputTokens, &r.OutputTokens, &r.TotalTokens,
			&r.CostUSD, &success, &timestamp, &userID,
		}
		if hasResponseTime {
			dest = append(dest, &rt)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}

		r.ModelName = model.String
		r.UserID = userID.String
		r.Success = success != 0
		r.Timestamp = time.UnixMilli(timestamp).UTC()
		if rt.Valid {
			v := rt.Int64
			r.ResponseTimeMs = &v
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}

	return records, nil
}

// HasField reports whether an optional column exists in the usage table.
func (s *SQLiteStore) HasField(name string) bool {
	return s.columns[name]
}

// Close releases any resources held by the store.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		if s.appendStmt != nil {
			s.appendStmt.Close()
		}
		if s.queryStmt != nil {
			s.queryStmt.Close()
		}

		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				s.logger.Warn("wal checkpoint failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
