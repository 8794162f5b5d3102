// Package pyledger is an additive, non-authoritative local audit trail: one
// row per sync session, recording counts and outcome. It has no bearing on
// reconciliation correctness — the manifest is still the single source of
// truth — it exists so an operator can answer "when did this root last
// sync, and what happened" without grepping the text log.
package pyledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure Go driver, registers as "sqlite"

	"github.com/mterenzi/pysync-go/internal/pyreconcile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ledger records one row per completed (or failed) sync session.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating as needed) the SQLite database at path and applies
// any pending migrations.
func Open(ctx context.Context, path string, log *slog.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("pyledger: open %s: %w", path, err)
	}

	if err := runMigrations(ctx, db, log); err != nil {
		db.Close()

		return nil, err
	}

	return &Ledger{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pyledger: sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("pyledger: migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("pyledger: running migrations: %w", err)
	}

	for _, r := range results {
		log.Info("pyledger: applied migration", "source", r.Source.Path)
	}

	return nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record inserts one completed session row. sessErr, if non-nil, is stored
// as text and the row still records whatever counts were gathered before
// failure.
func (l *Ledger) Record(ctx context.Context, root, remote, role string, started, finished time.Time, plan pyreconcile.Plan, sessErr error) error {
	var errText sql.NullString
	if sessErr != nil {
		errText = sql.NullString{String: sessErr.Error(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sessions (
			root, remote, role, started_at, finished_at,
			pull_create_dirs, pull_create_files, push_create_dirs, push_create_files,
			pull_delete_dirs, pull_delete_files, push_delete_dirs, push_delete_files,
			error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		root, remote, role, started.Unix(), finished.Unix(),
		len(plan.Creates.Pull.Dirs), len(plan.Creates.Pull.Files),
		len(plan.Creates.Push.Dirs), len(plan.Creates.Push.Files),
		len(plan.Deletes.Pull.Dirs), len(plan.Deletes.Pull.Files),
		len(plan.Deletes.Push.Dirs), len(plan.Deletes.Push.Files),
		errText,
	)
	if err != nil {
		return fmt.Errorf("pyledger: recording session: %w", err)
	}

	return nil
}

// SessionSummary is one row read back for reporting.
type SessionSummary struct {
	Root       string
	Remote     string
	Role       string
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// Recent returns the most recent n sessions recorded for root, newest first.
func (l *Ledger) Recent(ctx context.Context, root string, n int) ([]SessionSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT root, remote, role, started_at, finished_at, COALESCE(error, '')
		FROM sessions
		WHERE root = ?
		ORDER BY started_at DESC
		LIMIT ?`, root, n)
	if err != nil {
		return nil, fmt.Errorf("pyledger: querying recent sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary

	for rows.Next() {
		var (
			s                    SessionSummary
			startedAt, finished  int64
		)

		if err := rows.Scan(&s.Root, &s.Remote, &s.Role, &startedAt, &finished, &s.Error); err != nil {
			return nil, err
		}

		s.StartedAt = time.Unix(startedAt, 0)
		s.FinishedAt = time.Unix(finished, 0)
		out = append(out, s)
	}

	return out, rows.Err()
}
