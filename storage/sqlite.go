package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the local metadata database. Rule performance snapshots
// live here rather than in MongoDB: they are high-churn, node-local and
// losing them costs nothing but history.
type SQLite struct {
	DB     *sql.DB
	Path   string
	Logger *zap.SugaredLogger
}

// NewSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for tests.
func NewSQLite(path string, logger *zap.SugaredLogger) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// WAL mode allows concurrent readers during the flush write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	// Single writer; the flusher is the only write path.
	db.SetMaxOpenConns(1)

	s := &SQLite{DB: db, Path: path, Logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infow("Opened SQLite database", "path", path)
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rule_performance (
		rule_id TEXT PRIMARY KEY,
		evaluations INTEGER NOT NULL DEFAULT 0,
		matches INTEGER NOT NULL DEFAULT 0,
		shadow_matches INTEGER NOT NULL DEFAULT 0,
		invalid_count INTEGER NOT NULL DEFAULT 0,
		true_positives INTEGER NOT NULL DEFAULT 0,
		false_positives INTEGER NOT NULL DEFAULT 0,
		avg_latency_ns INTEGER NOT NULL DEFAULT 0,
		last_match TEXT,
		last_evaluated TEXT,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.DB.Close()
}
