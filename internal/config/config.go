package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Provider type constants (duplicated from api package to avoid import cycle)
const (
	ProviderDeepSeek = "deepseek"
	ProviderOllama   = "ollama"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates nesting levels: REMINDME_SCHEDULER__INTERVAL=30.
const EnvPrefix = "REMINDME_"

type Config struct {
	Provider  string          `koanf:"provider"`
	DeepSeek  DeepSeekConfig  `koanf:"deepseek"`
	Ollama    OllamaConfig    `koanf:"ollama"`
	Model     ModelConfig     `koanf:"model"`
	Store     StoreConfig     `koanf:"store"`
	Assistant AssistantConfig `koanf:"assistant"`
	WhatsApp  WhatsAppConfig  `koanf:"whatsapp"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	UI        UIConfig        `koanf:"ui"`
}

type DeepSeekConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Timeout int    `koanf:"timeout"`
}

type OllamaConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout int    `koanf:"timeout"`
}

type ModelConfig struct {
	Name        string  `koanf:"name"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

// AssistantConfig holds conversation defaults for new users.
type AssistantConfig struct {
	DefaultTimezone         string `koanf:"default_timezone"`
	DefaultChannel          string `koanf:"default_channel"`
	ConflictDurationMinutes int    `koanf:"conflict_duration_minutes"`
	DedupCacheSize          int    `koanf:"dedup_cache_size"`
}

// ConflictDuration returns the assumed reminder duration for conflict checks.
func (a AssistantConfig) ConflictDuration() time.Duration {
	return time.Duration(a.ConflictDurationMinutes) * time.Minute
}

type WhatsAppConfig struct {
	PhoneNumberID string `koanf:"phone_number_id"`
	AccessToken   string `koanf:"access_token"`
	APIVersion    string `koanf:"api_version"`
	BaseURL       string `koanf:"base_url"`
	Timeout       int    `koanf:"timeout"`

	// Webhook receiver for inbound messages.
	VerifyToken string `koanf:"verify_token"`
	AppSecret   string `koanf:"app_secret"`
	WebhookAddr string `koanf:"webhook_addr"`
}

// Enabled reports whether outbound WhatsApp delivery is configured.
func (w WhatsAppConfig) Enabled() bool {
	return w.PhoneNumberID != "" && w.AccessToken != ""
}

type SchedulerConfig struct {
	Enabled       bool `koanf:"enabled"`
	Interval      int  `koanf:"interval"` // seconds
	MaxConcurrent int  `koanf:"max_concurrent"`
	BatchLimit    int  `koanf:"batch_limit"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type UIConfig struct {
	ColoredOutput bool `koanf:"colored_output"`
}

func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		configPath = expandPath(configPath)

		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Well-known credential variables
	if apiKey := os.Getenv("DEEPSEEK_API_KEY"); apiKey != "" {
		k.Set("deepseek.api_key", apiKey)
	}
	if token := os.Getenv("WHATSAPP_ACCESS_TOKEN"); token != "" {
		k.Set("whatsapp.access_token", token)
	}
	if secret := os.Getenv("WHATSAPP_APP_SECRET"); secret != "" {
		k.Set("whatsapp.app_secret", secret)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Path = expandPath(cfg.Store.Path)

	return &cfg, nil
}

// envKey maps REMINDME_WHATSAPP__PHONE_NUMBER_ID to whatsapp.phone_number_id.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks provider credentials and numeric ranges. The LLM
// provider is only checked when requireProvider is set, since the
// notifier never calls it.
func (c *Config) Validate(requireProvider bool) error {
	if requireProvider {
		switch c.Provider {
		case ProviderDeepSeek:
			if c.DeepSeek.APIKey == "" {
				return fmt.Errorf("DeepSeek API key is required (set DEEPSEEK_API_KEY or add to config file)")
			}
		case ProviderOllama:
			if c.Ollama.BaseURL == "" {
				c.Ollama.BaseURL = "http://localhost:11434"
			}
		default:
			return fmt.Errorf("unknown provider: %s (supported: %s, %s)",
				c.Provider, ProviderDeepSeek, ProviderOllama)
		}

		if c.Model.Name == "" {
			return fmt.Errorf("model name is required")
		}

		if c.Model.MaxTokens <= 0 {
			return fmt.Errorf("max_tokens must be positive")
		}

		if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
			return fmt.Errorf("temperature must be between 0 and 2")
		}
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	switch c.Assistant.DefaultChannel {
	case "chat", "voice", "both":
	default:
		return fmt.Errorf("assistant.default_channel must be chat, voice or both, got %q", c.Assistant.DefaultChannel)
	}

	if c.Assistant.DefaultTimezone != "" {
		if _, err := time.LoadLocation(c.Assistant.DefaultTimezone); err != nil {
			return fmt.Errorf("assistant.default_timezone %q is not a valid IANA zone: %w", c.Assistant.DefaultTimezone, err)
		}
	}

	if c.Assistant.ConflictDurationMinutes <= 0 {
		return fmt.Errorf("assistant.conflict_duration_minutes must be positive")
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}

	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.max_concurrent must be positive")
	}

	return nil
}

// ProviderConfig contains provider-specific configuration for the API package.
type ProviderConfig struct {
	Type     string
	DeepSeek DeepSeekConfig
	Ollama   OllamaConfig
	Model    ModelSettings
}

// ModelSettings contains model parameters used by all providers.
type ModelSettings struct {
	Name        string
	MaxTokens   int
	Temperature float64
}

// GetProviderConfig returns the provider configuration for the API package.
func (c *Config) GetProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		Type:     c.Provider,
		DeepSeek: c.DeepSeek,
		Ollama:   c.Ollama,
		Model: ModelSettings{
			Name:        c.Model.Name,
			MaxTokens:   c.Model.MaxTokens,
			Temperature: c.Model.Temperature,
		},
	}
}

func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	return path
}
