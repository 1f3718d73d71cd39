package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rishsane/humuter-sub000/internal/config"
	"github.com/rishsane/humuter-sub000/internal/store/pg"
	"github.com/rishsane/humuter-sub000/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("humuter doctor")
	fmt.Printf("  Version:  %s (schema v%d)\n", Version, requiredSchema())
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Database.IsManagedMode() {
		fmt.Printf("    %-12s managed\n", "Mode:")
		if db, err := pg.OpenDB(cfg.Database.PostgresDSN); err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		} else {
			defer db.Close()
			checkSchema(ctx, db)
			checkDBAgents(ctx, db)
		}
	} else {
		dir := cfg.DataPath()
		fmt.Printf("    %-12s standalone\n", "Mode:")
		fmt.Printf("    %-12s %s", "Data dir:", dir)
		if _, err := os.Stat(dir); err != nil {
			fmt.Println(" (NOT FOUND, created on first start)")
		} else {
			fmt.Println(" (OK)")
		}
	}

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProvider("Gemini", cfg.Providers.Gemini.APIKey)
	checkProvider("Groq", cfg.Providers.Groq.APIKey)
	checkProvider("DeepSeek", cfg.Providers.DeepSeek.APIKey)
	fmt.Printf("    %-12s %s\n", "Default:", cfg.Providers.Default)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	tu := cfg.Channels.TelegramUser
	checkChannel("Telegram (personal)", tu.Enabled, tu.AppID != 0 && tu.AppHash != "")
	if tu.Enabled {
		sess := config.ExpandHome(tu.SessionFile)
		if _, err := os.Stat(sess); err != nil {
			fmt.Printf("    %-20s %s (NOT FOUND, run: humuter telegram-login)\n", "Session:", sess)
		} else {
			fmt.Printf("    %-20s %s (OK)\n", "Session:", sess)
		}
	}

	fmt.Println()
	fmt.Println("  Telemetry:")
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-12s %s (%s)\n", "OTLP:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	} else {
		fmt.Printf("    %-12s disabled\n", "OTLP:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSchema(ctx context.Context, db *sql.DB) {
	s, err := upgrade.CheckSchema(ctx, db)
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Dirty:
		fmt.Printf("    %-12s v%d (DIRTY, run: humuter migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Printf("    %-12s v%d (upgrade needed, run: humuter upgrade)\n", "Schema:", s.CurrentVersion)
	}

	pending, err := upgrade.PendingHooks(ctx, db)
	if err == nil && len(pending) > 0 {
		fmt.Printf("    %-12s %d pending\n", "Data hooks:", len(pending))
	} else if err == nil {
		fmt.Printf("    %-12s all applied\n", "Data hooks:")
	}
}

func checkDBAgents(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx,
		"SELECT a.agent_key, a.status, COALESCE(string_agg(c.channel, ',' ORDER BY c.channel), '') FROM agents a LEFT JOIN agent_channels c ON c.agent_id = a.id GROUP BY a.id ORDER BY a.agent_key")
	if err != nil {
		fmt.Printf("    (could not query agents: %s)\n", err)
		return
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var key, status, chans string
		if err := rows.Scan(&key, &status, &chans); err != nil {
			continue
		}
		if !found {
			fmt.Println("    Agents:")
			found = true
		}
		if chans == "" {
			chans = "no channels"
		}
		fmt.Printf("      %-20s %s (%s)\n", key+":", status, chans)
	}
	if !found {
		fmt.Println("    (no agents in database)")
	}
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", maskKey(apiKey))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-20s %s\n", name+":", status)
}
