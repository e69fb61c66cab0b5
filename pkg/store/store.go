// Package store is the episode/segment store: a single sqlite database
// with one writer and many readers, exposing transactional upserts, the
// job/run/audit tables, and FTS5 search over claims and evidence.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/errs"
)

// schemaVersion is the version this build of the code expects. Opening a
// database stamped with a newer version fails fast.
const schemaVersion = 1

//go:embed schema.sql
var schemaDDL string

// Store wraps the single-writer sqlite connection and exposes the
// Episode/Segment Store operations.
type Store struct {
	db *sql.DB
}

// Open creates or migrates the sqlite database at cfg.Path and returns a
// ready-to-use Store. Only one open connection is kept, since sqlite
// supports a single writer at a time; WAL mode keeps readers unblocked.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.DatabaseError, "store: connect to database", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		slog.Warn("store: failed to enable WAL mode", "error", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMS)); err != nil {
		slog.Warn("store: failed to set busy_timeout", "error", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		slog.Warn("store: failed to enable foreign keys", "error", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_meta'").Scan(&count); err != nil {
		return errs.Wrap(errs.DatabaseError, "store: check schema_meta", err)
	}

	if count > 0 {
		var version int
		if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_meta LIMIT 1").Scan(&version); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: read schema version", err)
		}
		if version > schemaVersion {
			return errs.New(errs.InvalidConfig, fmt.Sprintf("store: database schema version %d is newer than this build supports (%d)", version, schemaVersion))
		}
		return nil
	}

	for _, stmt := range splitStatements(schemaDDL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errs.Wrap(errs.DatabaseError, fmt.Sprintf("store: apply schema statement %q", truncate(stmt, 80)), err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_meta(version) VALUES (?)", schemaVersion); err != nil {
		return errs.Wrap(errs.DatabaseError, "store: stamp schema version", err)
	}
	return nil
}

func splitStatements(ddl string) []string {
	raw := strings.Split(ddl, ";")
	stmts := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		stmts = append(stmts, s)
	}
	return stmts
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
