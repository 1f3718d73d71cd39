package upgrade

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// DataHookFunc transforms rows after the SQL migration for its schema
// version is applied. It runs inside the transaction that records it.
type DataHookFunc func(ctx context.Context, tx *sql.Tx) error

type dataHook struct {
	version uint
	name    string
	fn      DataHookFunc
}

var hooks []dataHook

// RegisterDataHook adds a hook for schemaVersion. Names must be unique;
// hooks run in schema order, then registration order.
func RegisterDataHook(schemaVersion uint, name string, fn DataHookFunc) {
	hooks = append(hooks, dataHook{version: schemaVersion, name: name, fn: fn})
}

// PendingHooks lists hooks not yet recorded in hook_migrations.
func PendingHooks(ctx context.Context, db *sql.DB) ([]string, error) {
	pending, err := pendingHooks(ctx, db)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(pending))
	for _, h := range pending {
		names = append(names, h.name)
	}
	return names, nil
}

// RunPendingHooks applies pending hooks whose schema version is already
// migrated. Each hook and its record commit together, so a failed hook is
// retried on the next run.
func RunPendingHooks(ctx context.Context, db *sql.DB) (int, error) {
	pending, err := pendingHooks(ctx, db)
	if err != nil {
		return 0, err
	}
	status, err := CheckSchema(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, h := range pending {
		if h.version > status.CurrentVersion {
			slog.Debug("upgrade: hook waits for schema", "name", h.name, "needs", h.version, "current", status.CurrentVersion)
			continue
		}
		start := time.Now()
		if err := applyHook(ctx, db, h); err != nil {
			return count, err
		}
		slog.Info("upgrade: data hook applied", "name", h.name, "schema_version", h.version, "duration", time.Since(start))
		count++
	}
	return count, nil
}

func applyHook(ctx context.Context, db *sql.DB, h dataHook) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("data hook %q: begin: %w", h.name, err)
	}
	defer tx.Rollback()

	if err := h.fn(ctx, tx); err != nil {
		return fmt.Errorf("data hook %q failed: %w", h.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO hook_migrations (name, version) VALUES ($1, $2)", h.name, h.version); err != nil {
		return fmt.Errorf("data hook %q: record: %w", h.name, err)
	}
	return tx.Commit()
}

func pendingHooks(ctx context.Context, db *sql.DB) ([]dataHook, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS hook_migrations (
			name       TEXT PRIMARY KEY,
			version    INT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("ensure hook_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT name FROM hook_migrations")
	if err != nil {
		return nil, fmt.Errorf("query hook_migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return unapplied(hooks, applied), nil
}

// unapplied returns hooks missing from applied, ordered by schema version
// with registration order kept within a version.
func unapplied(all []dataHook, applied map[string]bool) []dataHook {
	var out []dataHook
	for _, h := range all {
		if !applied[h.name] {
			out = append(out, h)
		}
	}
	slices.SortStableFunc(out, func(a, b dataHook) int { return cmp.Compare(a.version, b.version) })
	return out
}
