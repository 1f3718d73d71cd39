package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Mode:    "standalone",
			DataDir: "~/.humuter/data",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{PollTimeout: 30},
			TelegramUser: TelegramUserConfig{
				SessionFile: "~/.humuter/telegram.session",
			},
		},
		Providers: ProvidersConfig{
			Default: "anthropic",
		},
		Agent: AgentConfig{
			CacheTTL:        "30s",
			MaxTokens:       1024,
			NaturalDelayMin: "30s",
			NaturalDelayMax: "60s",
			MaxFAQ:          50,
		},
		Escalation: EscalationConfig{
			TTL:           "24h",
			SweepSchedule: "*/10 * * * *",
		},
		RateLimit: RateLimitConfig{
			PerSecond: 1,
			Burst:     3,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "humuter-gateway",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("HUMUTER_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("HUMUTER_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("HUMUTER_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("HUMUTER_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("HUMUTER_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("HUMUTER_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("HUMUTER_PROVIDER", &c.Providers.Default)

	envStr("HUMUTER_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("HUMUTER_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("HUMUTER_TELEGRAM_APP_HASH", &c.Channels.TelegramUser.AppHash)
	envStr("HUMUTER_TELEGRAM_PHONE", &c.Channels.TelegramUser.Phone)
	if v := os.Getenv("HUMUTER_TELEGRAM_APP_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil && id > 0 {
			c.Channels.TelegramUser.AppID = id
		}
	}

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.TelegramUser.AppID != 0 && c.Channels.TelegramUser.AppHash != "" && c.Channels.TelegramUser.Phone != "" {
		c.Channels.TelegramUser.Enabled = true
	}

	// Database
	envStr("HUMUTER_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("HUMUTER_MODE", &c.Database.Mode)
	envStr("HUMUTER_DATA_DIR", &c.Database.DataDir)

	// Escalation
	envStr("HUMUTER_ESCALATION_TTL", &c.Escalation.TTL)

	// Telemetry
	envBool("HUMUTER_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("HUMUTER_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
	envStr("HUMUTER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("HUMUTER_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("HUMUTER_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)

	envStr("HUMUTER_HTTP_LISTEN", &c.HTTP.Listen)
	envStr("HUMUTER_HTTP_TOKEN", &c.HTTP.Token)

	// Allow lists from env (comma-separated)
	envList := func(key string, dst *FlexibleStringSlice) {
		if v := os.Getenv(key); v != "" {
			var out FlexibleStringSlice
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			*dst = out
		}
	}
	envList("HUMUTER_DISCORD_ALLOW_FROM", &c.Channels.Discord.AllowFrom)
	envList("HUMUTER_TELEGRAM_ALLOW_FROM", &c.Channels.Telegram.AllowFrom)
}
