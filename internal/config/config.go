package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Account  AccountConfig
	Storage  StorageConfig
	Explore  ExploreConfig
	AI       AIConfig
	Analysis AnalysisConfig
	Image    ImageConfig
	Chat     ChatConfig
	AutoSave AutoSaveConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type AccountConfig struct {
	ID string
}

type StorageConfig struct {
	DataDir string
}

type ExploreConfig struct {
	MinDuration time.Duration
	MaxDuration time.Duration
}

// AIConfig holds settings shared by every AI backend. The API keys come only
// from the environment or the platform secret store.
type AIConfig struct {
	KeyRelayURL     string
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RequestTimeout  time.Duration
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string
}

type AnalysisConfig struct {
	Provider string
	Model    string
	BaseURL  string
}

type ImageConfig struct {
	Model       string
	BaseURL     string
	BaseImage   string
	MaxAttempts int
}

type ChatConfig struct {
	Provider     string
	Model        string
	BaseURL      string
	HistoryLimit int
}

type AutoSaveConfig struct {
	Interval time.Duration
}

type LogConfig struct {
	Level string
}

// Default returns the built-in configuration without consulting the file,
// the environment or the secret store.
func Default() Config {
	return defaults()
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Account: AccountConfig{
			ID: "1234567890",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Explore: ExploreConfig{
			MinDuration: 60 * time.Second,
			MaxDuration: 120 * time.Second,
		},
		AI: AIConfig{
			RetryAttempts:  3,
			RetryBaseDelay: time.Second,
			RequestTimeout: 90 * time.Second,
		},
		Analysis: AnalysisConfig{
			Provider: "openai",
			Model:    "gpt-4o-2024-08-06",
		},
		Image: ImageConfig{
			Model:       "gemini-2.5-flash-image",
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			MaxAttempts: 3,
		},
		Chat: ChatConfig{
			Provider:     "openai",
			Model:        "gpt-4o-2024-08-06",
			HistoryLimit: 30,
		},
		AutoSave: AutoSaveConfig{
			Interval: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the TOML config file, environment variables,
// and the platform secret store.
//
// The file lives at $XDG_CONFIG_HOME/cory/config.toml. Environment variables
// (CORY_*) override file values. API keys are never read from the file; when
// the environment has none, the secret store is consulted. A missing key is
// not an error: the capability that needs it runs unconfigured.
func Load() (Config, error) {
	return loadFromPath(configFilePath(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "cory"

func loadFromPath(path string, kc keychain) (Config, error) {
	return loadWith(newFileBackend(path), kc)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecretStore(&cfg, kc)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applySecretStore fills secrets still empty after the environment.
func applySecretStore(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

var knownProviders = map[string]bool{"openai": true, "gemini": true, "claude": true, "anthropic": true, "ollama": true}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case strings.TrimSpace(c.Account.ID) == "":
		return fmt.Errorf("account.id must not be empty")
	case c.Explore.MinDuration <= 0:
		return fmt.Errorf("explore.min_duration must be positive, got %s", c.Explore.MinDuration)
	case c.Explore.MaxDuration < c.Explore.MinDuration:
		return fmt.Errorf("explore.max_duration %s is shorter than explore.min_duration %s", c.Explore.MaxDuration, c.Explore.MinDuration)
	case c.AI.RetryAttempts < 1:
		return fmt.Errorf("ai.retry_attempts must be at least 1, got %d", c.AI.RetryAttempts)
	case c.AI.RetryBaseDelay < 0:
		return fmt.Errorf("ai.retry_base_delay must not be negative")
	case c.AI.RequestTimeout <= 0:
		return fmt.Errorf("ai.request_timeout must be positive")
	case !knownProviders[strings.ToLower(c.Analysis.Provider)]:
		return fmt.Errorf("unknown analysis.provider %q", c.Analysis.Provider)
	case strings.EqualFold(c.Analysis.Provider, "claude") || strings.EqualFold(c.Analysis.Provider, "anthropic"):
		return fmt.Errorf("analysis.provider %q has no image support", c.Analysis.Provider)
	case !knownProviders[strings.ToLower(c.Chat.Provider)]:
		return fmt.Errorf("unknown chat.provider %q", c.Chat.Provider)
	case c.Chat.HistoryLimit < 2:
		return fmt.Errorf("chat.history_limit must be at least 2, got %d", c.Chat.HistoryLimit)
	case c.AutoSave.Interval <= 0:
		return fmt.Errorf("autosave.interval must be positive")
	}
	return nil
}

// APIKey returns the configured key for an AI provider, or "".
func (c Config) APIKey(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return c.AI.OpenAIAPIKey
	case "gemini":
		return c.AI.GeminiAPIKey
	case "claude", "anthropic":
		return c.AI.AnthropicAPIKey
	}
	return ""
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
