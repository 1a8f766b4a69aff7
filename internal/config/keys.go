package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// account names the secret in the platform secret store.
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CORY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "CORY_SERVER_API_TOKEN",
		secret: true, account: "api_token",
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "account.id", typ: kString, env: "CORY_ACCOUNT_ID",
		apply:   func(cfg *Config, v any) { cfg.Account.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.Account.ID },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CORY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "explore.min_duration", typ: kDuration, env: "CORY_EXPLORE_MIN_DURATION",
		apply:   func(cfg *Config, v any) { cfg.Explore.MinDuration = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Explore.MinDuration },
	},
	{
		key: "explore.max_duration", typ: kDuration, env: "CORY_EXPLORE_MAX_DURATION",
		apply:   func(cfg *Config, v any) { cfg.Explore.MaxDuration = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Explore.MaxDuration },
	},
	{
		key: "ai.key_relay_url", typ: kString, env: "CORY_AI_KEY_RELAY_URL",
		apply:   func(cfg *Config, v any) { cfg.AI.KeyRelayURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.KeyRelayURL },
	},
	{
		key: "ai.retry_attempts", typ: kInt, env: "CORY_AI_RETRY_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.AI.RetryAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.AI.RetryAttempts },
	},
	{
		key: "ai.request_timeout", typ: kDuration, env: "CORY_AI_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.AI.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.AI.RequestTimeout },
	},
	{
		key: "ai.retry_base_delay", typ: kDuration, env: "CORY_AI_RETRY_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.AI.RetryBaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.AI.RetryBaseDelay },
	},
	{
		key: "ai.openai_api_key", typ: kString, env: "CORY_OPENAI_API_KEY",
		secret: true, account: "openai_api_key",
		apply:   func(cfg *Config, v any) { cfg.AI.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.OpenAIAPIKey },
	},
	{
		key: "ai.gemini_api_key", typ: kString, env: "CORY_GEMINI_API_KEY",
		secret: true, account: "gemini_api_key",
		apply:   func(cfg *Config, v any) { cfg.AI.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.GeminiAPIKey },
	},
	{
		key: "ai.anthropic_api_key", typ: kString, env: "CORY_ANTHROPIC_API_KEY",
		secret: true, account: "anthropic_api_key",
		apply:   func(cfg *Config, v any) { cfg.AI.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.AnthropicAPIKey },
	},
	{
		key: "analysis.provider", typ: kString, env: "CORY_ANALYSIS_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Analysis.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.Provider },
	},
	{
		key: "analysis.model", typ: kString, env: "CORY_ANALYSIS_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Analysis.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.Model },
	},
	{
		key: "analysis.base_url", typ: kString, env: "CORY_ANALYSIS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Analysis.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.BaseURL },
	},
	{
		key: "image.model", typ: kString, env: "CORY_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Image.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Image.Model },
	},
	{
		key: "image.base_url", typ: kString, env: "CORY_IMAGE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Image.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Image.BaseURL },
	},
	{
		key: "image.base_image", typ: kString, env: "CORY_IMAGE_BASE_IMAGE",
		apply:   func(cfg *Config, v any) { cfg.Image.BaseImage = v.(string) },
		extract: func(cfg Config) any { return cfg.Image.BaseImage },
	},
	{
		key: "image.max_attempts", typ: kInt, env: "CORY_IMAGE_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Image.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Image.MaxAttempts },
	},
	{
		key: "chat.provider", typ: kString, env: "CORY_CHAT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Chat.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Provider },
	},
	{
		key: "chat.model", typ: kString, env: "CORY_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Chat.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Model },
	},
	{
		key: "chat.base_url", typ: kString, env: "CORY_CHAT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Chat.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.BaseURL },
	},
	{
		key: "chat.history_limit", typ: kInt, env: "CORY_CHAT_HISTORY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Chat.HistoryLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.HistoryLimit },
	},
	{
		key: "autosave.interval", typ: kDuration, env: "CORY_AUTOSAVE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.AutoSave.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.AutoSave.Interval },
	},
	{
		key: "log.level", typ: kString, env: "CORY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
