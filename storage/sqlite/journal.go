// Package sqlite provides a SQLite implementation of the go-mutation-kit
// operation journal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	mutErrors "github.com/c0deZ3R0/go-mutation-kit/errors"
	"github.com/c0deZ3R0/go-mutation-kit/logging"
	"github.com/c0deZ3R0/go-mutation-kit/mutkit"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for better error handling
var (
	ErrJournalClosed = errors.New("journal is closed")
)

// Config holds configuration options for the SQLiteJournal.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:journal.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// TableName is the name of the table to store journal entries.
	// Defaults to "operation_journal" if empty.
	TableName string

	// Connection pool settings for production workloads.
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "operation_journal"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults for SQLite.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor.
func NewWithDataSource(dataSourceName string) (*SQLiteJournal, error) {
	return New(DefaultConfig(dataSourceName))
}

// SQLiteJournal implements mutkit.OperationJournal on a SQLite database.
type SQLiteJournal struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	logger    *logging.Logger
	tableName string
}

// Compile-time check to ensure SQLiteJournal satisfies the OperationJournal interface
var _ mutkit.OperationJournal = (*SQLiteJournal)(nil)

// New creates a new SQLiteJournal from a Config.
func New(config *Config) (*SQLiteJournal, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.Default().WithComponent(logging.Component("sqlite-journal"))
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	j := &SQLiteJournal{
		db:        db,
		logger:    logger,
		tableName: config.TableName,
	}

	if err := j.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.InfoContext(context.Background(), "SQLite journal successfully initialized",
		slog.String("table_name", config.TableName),
	)
	return j, nil
}

func (j *SQLiteJournal) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %[1]s (
        seq        INTEGER PRIMARY KEY AUTOINCREMENT,
        id         TEXT NOT NULL UNIQUE,
        op_id      TEXT NOT NULL,
        entity_id  TEXT NOT NULL,
        kind       TEXT NOT NULL,
        status     TEXT NOT NULL,
        attempt    INTEGER NOT NULL DEFAULT 0,
        patch      TEXT,
        version    INTEGER NOT NULL DEFAULT 0,
        decision   TEXT NOT NULL DEFAULT '',
        at         TIMESTAMP NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_entity_id ON %[1]s (entity_id);
    CREATE INDEX IF NOT EXISTS idx_%[1]s_op_id ON %[1]s (op_id);
    CREATE INDEX IF NOT EXISTS idx_%[1]s_at ON %[1]s (at);
    `, j.tableName)
	_, err := j.db.Exec(query)
	return err
}

// Append stores one journal entry.
func (j *SQLiteJournal) Append(ctx context.Context, entry mutkit.JournalEntry) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return mutErrors.NewWithComponent(mutErrors.OpJournal, "sqlite", ErrJournalClosed)
	}
	if entry.ID == "" {
		return mutErrors.NewMisuse(mutErrors.OpJournal, fmt.Errorf("journal entry ID cannot be empty"))
	}

	var patch []byte
	if entry.Patch != nil {
		var err error
		patch, err = json.Marshal(entry.Patch)
		if err != nil {
			return mutErrors.NewWithComponent(mutErrors.OpJournal, "sqlite",
				fmt.Errorf("failed to marshal patch: %w", err))
		}
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (id, op_id, entity_id, kind, status, attempt, patch, version, decision, at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, j.tableName)

	_, err := j.db.ExecContext(ctx, query,
		entry.ID,
		string(entry.OpID),
		string(entry.EntityID),
		string(entry.Kind),
		string(entry.Status),
		entry.Attempt,
		nullableString(patch),
		entry.Version,
		entry.Decision,
		entry.At.UTC(),
	)
	if err != nil {
		return mutErrors.NewWithComponent(mutErrors.OpJournal, "sqlite",
			fmt.Errorf("failed to insert journal entry: %w", err))
	}
	return nil
}

// List retrieves entries matching the criteria, oldest first.
func (j *SQLiteJournal) List(ctx context.Context, criteria mutkit.JournalCriteria) ([]mutkit.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, mutErrors.NewWithComponent(mutErrors.OpJournal, "sqlite", ErrJournalClosed)
	}

	var (
		conds []string
		args  []any
	)
	if criteria.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, string(criteria.EntityID))
	}
	if criteria.OpID != "" {
		conds = append(conds, "op_id = ?")
		args = append(args, string(criteria.OpID))
	}
	if criteria.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(criteria.Status))
	}
	if criteria.From != nil {
		conds = append(conds, "at >= ?")
		args = append(args, criteria.From.UTC())
	}
	if criteria.To != nil {
		conds = append(conds, "at <= ?")
		args = append(args, criteria.To.UTC())
	}

	query := fmt.Sprintf(
		"SELECT id, op_id, entity_id, kind, status, attempt, patch, version, decision, at FROM %s", j.tableName)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq ASC"
	if criteria.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, criteria.Limit)
	}
	if criteria.Offset > 0 {
		if criteria.Limit <= 0 {
			// SQLite requires LIMIT when OFFSET is present.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, criteria.Offset)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mutErrors.NewWithComponent(mutErrors.OpJournal, "sqlite",
			fmt.Errorf("failed to query journal: %w", err))
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Trail returns the complete transition history for an entity, oldest first.
func (j *SQLiteJournal) Trail(ctx context.Context, entityID mutkit.EntityID) ([]mutkit.JournalEntry, error) {
	return j.List(ctx, mutkit.JournalCriteria{EntityID: entityID})
}

// Close closes the underlying database.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func scanEntries(rows *sql.Rows) ([]mutkit.JournalEntry, error) {
	var entries []mutkit.JournalEntry
	for rows.Next() {
		var (
			entry    mutkit.JournalEntry
			opID     string
			entityID string
			kind     string
			status   string
			patch    sql.NullString
			at       time.Time
		)
		if err := rows.Scan(&entry.ID, &opID, &entityID, &kind, &status,
			&entry.Attempt, &patch, &entry.Version, &entry.Decision, &at); err != nil {
			return nil, mutErrors.NewWithComponent(mutErrors.OpJournal, "sqlite",
				fmt.Errorf("failed to scan journal row: %w", err))
		}
		entry.OpID = mutkit.OperationID(opID)
		entry.EntityID = mutkit.EntityID(entityID)
		entry.Kind = mutkit.OperationKind(kind)
		entry.Status = mutkit.OperationStatus(status)
		entry.At = at.UTC()
		if patch.Valid && patch.String != "" {
			if err := json.Unmarshal([]byte(patch.String), &entry.Patch); err != nil {
				return nil, mutErrors.NewWithComponent(mutErrors.OpJournal, "sqlite",
					fmt.Errorf("failed to unmarshal patch: %w", err))
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mutErrors.NewWithComponent(mutErrors.OpJournal, "sqlite", err)
	}
	return entries, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
