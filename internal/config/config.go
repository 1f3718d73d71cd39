package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config is the root configuration for the humuter gateway.
type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Channels   ChannelsConfig   `json:"channels"`
	Providers  ProvidersConfig  `json:"providers"`
	Agent      AgentConfig      `json:"agent"`
	Escalation EscalationConfig `json:"escalation"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	HTTP       HTTPConfig       `json:"http"`
	mu         sync.RWMutex
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is never read from the config file, only from HUMUTER_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"`     // "standalone" (default, JSON files) or "managed" (Postgres)
	DataDir     string `json:"data_dir,omitempty"` // standalone store directory (default "~/.humuter/data")
}

// IsManagedMode returns true when agents and escalations live in Postgres.
func (d DatabaseConfig) IsManagedMode() bool {
	return d.Mode == "managed" && d.PostgresDSN != ""
}

// ChannelsConfig holds one adapter config per platform.
type ChannelsConfig struct {
	Discord      DiscordConfig      `json:"discord"`
	Telegram     TelegramConfig     `json:"telegram"`
	TelegramUser TelegramUserConfig `json:"telegram_user"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"-"`
	AgentID   string              `json:"agent_id,omitempty"` // pin every message to one agent instead of route lookup
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type TelegramConfig struct {
	Enabled     bool                `json:"enabled"`
	Token       string              `json:"-"`
	AgentID     string              `json:"agent_id,omitempty"`
	AllowFrom   FlexibleStringSlice `json:"allow_from,omitempty"`
	PollTimeout int                 `json:"poll_timeout,omitempty"` // long-poll seconds (default 30)
}

// TelegramUserConfig configures the personal-account (MTProto) adapter.
type TelegramUserConfig struct {
	Enabled     bool                `json:"enabled"`
	AppID       int                 `json:"app_id,omitempty"`
	AppHash     string              `json:"-"`
	Phone       string              `json:"phone,omitempty"`
	SessionFile string              `json:"session_file,omitempty"` // default "~/.humuter/telegram.session"
	AgentID     string              `json:"agent_id,omitempty"`
	AllowFrom   FlexibleStringSlice `json:"allow_from,omitempty"`
}

type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Groq       ProviderConfig `json:"groq"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Gemini     ProviderConfig `json:"gemini"`
	Default    string         `json:"default,omitempty"` // provider used when an agent carries no hint
}

type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" ||
		p.OpenAI.APIKey != "" ||
		p.OpenRouter.APIKey != "" ||
		p.Groq.APIKey != "" ||
		p.DeepSeek.APIKey != "" ||
		p.Gemini.APIKey != ""
}

// AgentConfig tunes the reply runtime.
type AgentConfig struct {
	CacheTTL        string `json:"cache_ttl,omitempty"`         // agent profile cache (default "30s", Go duration)
	MaxTokens       int    `json:"max_tokens,omitempty"`        // completion cap per call (default 1024)
	NaturalDelayMin string `json:"natural_delay_min,omitempty"` // default "30s"
	NaturalDelayMax string `json:"natural_delay_max,omitempty"` // default "60s"
	MaxFAQ          int    `json:"max_faq,omitempty"`           // learned answers included in prompts (default 50)
}

// EscalationConfig bounds how long a pending escalation can be matched.
type EscalationConfig struct {
	TTL           string `json:"ttl,omitempty"`            // default "24h"; "0" disables expiry
	SweepSchedule string `json:"sweep_schedule,omitempty"` // cron expression (default "*/10 * * * *")
}

// RateLimitConfig caps outbound sends per chat.
type RateLimitConfig struct {
	PerSecond float64 `json:"per_second,omitempty"` // default 1
	Burst     int     `json:"burst,omitempty"`      // default 3
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "humuter-gateway"
	Headers     map[string]string `json:"headers,omitempty"`
}

// HTTPConfig exposes the read-only ops API. An empty Listen disables it.
// Token is only read from HUMUTER_HTTP_TOKEN.
type HTTPConfig struct {
	Listen string `json:"listen,omitempty"` // e.g. "127.0.0.1:18790"
	Token  string `json:"-"`
}

// FlexibleStringSlice accepts both ["a","b"] and [1,2] in JSON.
// Platform user IDs are often numeric, so config authors write them bare.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case float64:
			out = append(out, fmt.Sprintf("%.0f", val))
		default:
			out = append(out, fmt.Sprintf("%v", val))
		}
	}
	*f = out
	return nil
}

// ParseDuration parses a Go duration string, falling back to def when s is
// empty or malformed. A bare "0" means zero.
func ParseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// CacheTTLDuration returns the agent profile cache lifetime.
func (a AgentConfig) CacheTTLDuration() time.Duration {
	return ParseDuration(a.CacheTTL, 30*time.Second)
}

// NaturalDelay returns the configured random reply delay window.
func (a AgentConfig) NaturalDelay() (min, max time.Duration) {
	min = ParseDuration(a.NaturalDelayMin, 30*time.Second)
	max = ParseDuration(a.NaturalDelayMax, 60*time.Second)
	if max < min {
		max = min
	}
	return min, max
}

// TTLDuration returns the escalation matching window. Zero disables expiry.
func (e EscalationConfig) TTLDuration() time.Duration {
	return ParseDuration(e.TTL, 24*time.Hour)
}

// Save writes the config to a JSON file. Secrets tagged json:"-" are not written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 digest of the config.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// DataPath returns the expanded standalone data directory.
func (c *Config) DataPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.DataDir)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
