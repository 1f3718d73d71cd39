package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/rishsane/humuter-sub000/internal/config"
)

var migrationsDir string

// migrationsPath picks --migrations-dir, HUMUTER_MIGRATIONS_DIR, ./migrations,
// then the migrations directory shipped next to the binary.
func migrationsPath() string {
	for _, p := range []string{migrationsDir, os.Getenv("HUMUTER_MIGRATIONS_DIR")} {
		if p != "" {
			return p
		}
	}
	if st, err := os.Stat("migrations"); err == nil && st.IsDir() {
		return "migrations"
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "migrations")
	}
	return "migrations"
}

// migrateLogger forwards golang-migrate output to slog at debug level.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	slog.Debug("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (migrateLogger) Verbose() bool { return verbose }

func newMigrator(dsn string) (*migrate.Migrate, error) {
	m, err := migrate.New("file://"+migrationsPath(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open migrations %s: %w", migrationsPath(), err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// withMigrator loads HUMUTER_POSTGRES_DSN through the config overlay and runs fn.
func withMigrator(fn func(m *migrate.Migrate) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.PostgresDSN == "" {
		return errors.New("HUMUTER_POSTGRES_DSN is not set")
	}
	m, err := newMigrator(cfg.Database.PostgresDSN)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func reportVersion(m *migrate.Migrate, action string) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		slog.Info(action, "version", "none")
		return
	}
	slog.Info(action, "version", v, "dirty", dirty)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back SQL schema migrations",
		Long:  "SQL-only migrations. Use 'humuter upgrade' to also run data hooks.",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory (default: ./migrations)")
	cmd.AddCommand(migrateUpCmd(), migrateDownCmd(), migrateVersionCmd(), migrateForceCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate up: %w", err)
				}
				reportVersion(m, "migrations applied")
				return nil
			})
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive, got %d", steps)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate down: %w", err)
				}
				reportVersion(m, "rollback complete")
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				v, dirty, err := m.Version()
				switch {
				case errors.Is(err, migrate.ErrNilVersion):
					fmt.Printf("no migrations applied (binary requires v%d)\n", requiredSchema())
				case err != nil:
					return fmt.Errorf("read version: %w", err)
				default:
					fmt.Printf("version: %d, dirty: %v, required: %d\n", v, dirty, requiredSchema())
				}
				return nil
			})
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it (clears dirty)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				slog.Info("forced migration version", "version", version)
				return nil
			})
		},
	}
}
