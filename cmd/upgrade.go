package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/rishsane/humuter-sub000/internal/config"
	"github.com/rishsane/humuter-sub000/internal/store/pg"
	"github.com/rishsane/humuter-sub000/internal/upgrade"
)

// ErrUpgradeFailed is returned when upgrade cannot proceed.
var ErrUpgradeFailed = errors.New("upgrade cannot proceed")

func requiredSchema() uint { return upgrade.RequiredSchemaVersion }

func upgradeCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade database schema and run data migrations",
		Long:  "Applies pending SQL migrations and Go-based data hooks. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(cmd.Context(), dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without applying changes")
	return cmd
}

func runUpgrade(ctx context.Context, dryRun bool) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Database.IsManagedMode() {
		fmt.Println("Standalone mode: no database migrations needed.")
		return nil
	}

	dsn := cfg.Database.PostgresDSN
	db, err := pg.OpenDB(dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	s, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	fmt.Printf("  Schema current:  %d\n", s.CurrentVersion)
	fmt.Printf("  Schema required: %d\n\n", s.RequiredVersion)

	if err := s.Err(); errors.Is(err, upgrade.ErrSchemaDirty) || errors.Is(err, upgrade.ErrSchemaAhead) {
		fmt.Print(upgrade.FormatError(s))
		return ErrUpgradeFailed
	}

	if dryRun {
		if s.NeedsMigration {
			fmt.Printf("  Would apply SQL migrations: v%d -> v%d\n", s.CurrentVersion, s.RequiredVersion)
		} else {
			fmt.Println("  SQL schema is up to date.")
		}
		pending, err := upgrade.PendingHooks(ctx, db)
		if err != nil {
			slog.Debug("could not check pending data hooks", "error", err)
		}
		for _, name := range pending {
			fmt.Printf("  Would run data hook: %s\n", name)
		}
		return nil
	}

	return applyUpgrade(ctx, dsn, db, s)
}

// applyUpgrade runs SQL migrations (when needed) and then pending data hooks.
func applyUpgrade(ctx context.Context, dsn string, db *sql.DB, s *upgrade.SchemaStatus) error {
	if s.NeedsMigration {
		m, err := newMigrator(dsn)
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		v, _, _ := m.Version()
		slog.Info("upgrade: SQL migrations applied", "from", s.CurrentVersion, "to", v)
	}

	count, err := upgrade.RunPendingHooks(ctx, db)
	if err != nil {
		return fmt.Errorf("data hooks: %w", err)
	}
	if count > 0 {
		slog.Info("upgrade: data hooks applied", "count", count)
	}
	return nil
}

// checkSchemaOrAutoUpgrade gates gateway startup on schema compatibility.
// With HUMUTER_AUTO_UPGRADE=true an outdated schema is upgraded inline.
func checkSchemaOrAutoUpgrade(ctx context.Context, dsn string) error {
	db, err := pg.OpenDB(dsn)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	defer db.Close()

	s, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	switch err := s.Err(); {
	case err == nil:
		slog.Info("schema check passed", "current", s.CurrentVersion, "required", s.RequiredVersion)
		// Hooks registered for the current version may still be pending.
		if _, err := upgrade.RunPendingHooks(ctx, db); err != nil {
			return fmt.Errorf("data hooks: %w", err)
		}
		return nil
	case errors.Is(err, upgrade.ErrSchemaOutdated) && os.Getenv("HUMUTER_AUTO_UPGRADE") == "true":
		slog.Info("auto-upgrade: applying migrations", "from", s.CurrentVersion, "to", s.RequiredVersion)
		return applyUpgrade(ctx, dsn, db, s)
	default:
		return fmt.Errorf("%w\n%s", err, upgrade.FormatError(s))
	}
}
