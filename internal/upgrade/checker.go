// Package upgrade gates startup on the Postgres schema version and runs
// Go data hooks that follow SQL migrations.
package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the migrations version this binary expects.
const RequiredSchemaVersion uint = 1

var (
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaDirty    = errors.New("database schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// SchemaStatus compares the migrated version against RequiredSchemaVersion.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// Err returns nil for a compatible schema, otherwise one of the ErrSchema values.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Dirty:
		return ErrSchemaDirty
	case s.Compatible:
		return nil
	case s.CurrentVersion > s.RequiredVersion:
		return ErrSchemaAhead
	default:
		return ErrSchemaOutdated
	}
}

func evaluate(version uint, dirty bool) *SchemaStatus {
	s := &SchemaStatus{CurrentVersion: version, RequiredVersion: RequiredSchemaVersion, Dirty: dirty}
	if !dirty {
		s.Compatible = version == RequiredSchemaVersion
		s.NeedsMigration = version < RequiredSchemaVersion
	}
	return s
}

// CheckSchema reads golang-migrate's schema_migrations row. A database
// without the table reports version 0.
func CheckSchema(ctx context.Context, db *sql.DB) (*SchemaStatus, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, "SELECT to_regclass('schema_migrations') IS NOT NULL").Scan(&exists); err != nil {
		return nil, fmt.Errorf("probe schema_migrations: %w", err)
	}
	if !exists {
		return evaluate(0, false), nil
	}

	var (
		version uint
		dirty   bool
	)
	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return evaluate(0, false), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	return evaluate(version, dirty), nil
}

// FormatError renders operator guidance for an incompatible status.
func FormatError(s *SchemaStatus) string {
	switch s.Err() {
	case nil:
		return fmt.Sprintf("Database schema v%d is up to date.\n", s.CurrentVersion)
	case ErrSchemaDirty:
		return fmt.Sprintf("Database schema v%d is dirty: a migration failed partway.\n\n"+
			"  Fix:  humuter migrate force %d\n"+
			"  Then: humuter upgrade\n",
			s.CurrentVersion, s.CurrentVersion-1)
	case ErrSchemaAhead:
		return fmt.Sprintf("Database schema v%d is newer than this binary (requires v%d).\n\n"+
			"  Fix: install a humuter release that supports schema v%d.\n",
			s.CurrentVersion, s.RequiredVersion, s.CurrentVersion)
	default:
		return fmt.Sprintf("Database schema is outdated: current v%d, required v%d.\n\n"+
			"  Run:  humuter upgrade\n"+
			"  Or:   humuter migrate up   (SQL only, skips data hooks)\n\n"+
			"  Set HUMUTER_AUTO_UPGRADE=true to upgrade on gateway start.\n",
			s.CurrentVersion, s.RequiredVersion)
	}
}
