package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if service != "cory" {
		return "", os.ErrNotExist
	}
	v, ok := m.values[account]
	if !ok {
		return "", os.ErrNotExist
	}
	return v, nil
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every CORY_* variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `# empty config`)

	cfg, err := loadFromPath(path, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Account.ID != "1234567890" {
		t.Errorf("Account.ID = %q, want %q", cfg.Account.ID, "1234567890")
	}
	if cfg.Explore.MinDuration != 60*time.Second || cfg.Explore.MaxDuration != 120*time.Second {
		t.Errorf("Explore = %+v, want 60s..120s", cfg.Explore)
	}
	if cfg.AI.RetryAttempts != 3 || cfg.AI.RetryBaseDelay != time.Second {
		t.Errorf("AI retry = %d/%s, want 3/1s", cfg.AI.RetryAttempts, cfg.AI.RetryBaseDelay)
	}
	if cfg.AI.RequestTimeout != 90*time.Second {
		t.Errorf("AI.RequestTimeout = %s, want 90s", cfg.AI.RequestTimeout)
	}
	if cfg.Analysis.Provider != "openai" || cfg.Analysis.Model != "gpt-4o-2024-08-06" {
		t.Errorf("Analysis = %+v", cfg.Analysis)
	}
	if cfg.Image.Model != "gemini-2.5-flash-image" {
		t.Errorf("Image.Model = %q", cfg.Image.Model)
	}
	if cfg.Chat.HistoryLimit != 30 {
		t.Errorf("Chat.HistoryLimit = %d, want 30", cfg.Chat.HistoryLimit)
	}
	if cfg.AutoSave.Interval != 30*time.Second {
		t.Errorf("AutoSave.Interval = %s, want 30s", cfg.AutoSave.Interval)
	}
	if cfg.AI.OpenAIAPIKey != "" {
		t.Errorf("OpenAIAPIKey = %q, want empty", cfg.AI.OpenAIAPIKey)
	}
}

// TestMissingKeysAreNotAnError verifies that a config without any API key loads.
func TestMissingKeysAreNotAnError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, err := loadFromPath(path, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range []string{"openai", "gemini", "claude"} {
		if got := cfg.APIKey(p); got != "" {
			t.Errorf("APIKey(%s) = %q, want empty", p, got)
		}
	}
}

// TestTOMLParsing verifies that all fields are correctly read from a TOML file.
func TestTOMLParsing(t *testing.T) {
	clearEnv(t)
	content := `
[server]
port = 5000

[account]
id = "acct-42"

[storage]
data_dir = "/tmp/cory-test"

[explore]
min_duration = "5s"
max_duration = "10s"

[ai]
key_relay_url = "http://localhost:3000/api/key"
retry_attempts = 5
retry_base_delay = "250ms"
openai_api_key = "file-keys-are-ignored"

[analysis]
provider = "gemini"
model = "gemini-2.5-flash"

[image]
base_image = "/tmp/base.png"
max_attempts = 4

[chat]
provider = "claude"
model = "claude-sonnet-4-5"
history_limit = 20

[autosave]
interval = "1m"
`
	path := writeTempConfig(t, content)

	cfg, err := loadFromPath(path, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Account.ID != "acct-42" {
		t.Errorf("Account.ID = %q", cfg.Account.ID)
	}
	if cfg.Storage.DataDir != "/tmp/cory-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Explore.MinDuration != 5*time.Second || cfg.Explore.MaxDuration != 10*time.Second {
		t.Errorf("Explore = %+v", cfg.Explore)
	}
	if cfg.AI.KeyRelayURL != "http://localhost:3000/api/key" {
		t.Errorf("AI.KeyRelayURL = %q", cfg.AI.KeyRelayURL)
	}
	if cfg.AI.RetryAttempts != 5 || cfg.AI.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("AI retry = %d/%s", cfg.AI.RetryAttempts, cfg.AI.RetryBaseDelay)
	}
	if cfg.AI.OpenAIAPIKey != "" {
		t.Errorf("OpenAIAPIKey = %q, secrets must not come from the file", cfg.AI.OpenAIAPIKey)
	}
	if cfg.Analysis.Provider != "gemini" || cfg.Analysis.Model != "gemini-2.5-flash" {
		t.Errorf("Analysis = %+v", cfg.Analysis)
	}
	if cfg.Image.BaseImage != "/tmp/base.png" || cfg.Image.MaxAttempts != 4 {
		t.Errorf("Image = %+v", cfg.Image)
	}
	if cfg.Chat.Provider != "claude" || cfg.Chat.HistoryLimit != 20 {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.AutoSave.Interval != time.Minute {
		t.Errorf("AutoSave.Interval = %s", cfg.AutoSave.Interval)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `[server]
port = 5000
[explore]
min_duration = "5s"
max_duration = "10s"
`)

	t.Setenv("CORY_SERVER_PORT", "6000")
	t.Setenv("CORY_EXPLORE_MAX_DURATION", "20s")
	t.Setenv("CORY_OPENAI_API_KEY", "env-key")

	cfg, err := loadFromPath(path, mockKeychain{values: map[string]string{"openai_api_key": "keychain-key"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Explore.MaxDuration != 20*time.Second {
		t.Errorf("Explore.MaxDuration = %s, want 20s", cfg.Explore.MaxDuration)
	}
	if cfg.AI.OpenAIAPIKey != "env-key" {
		t.Errorf("OpenAIAPIKey = %q, want %q", cfg.AI.OpenAIAPIKey, "env-key")
	}
}

// TestBadEnvValueKeepsDefault verifies unparsable env values fall back to defaults.
func TestBadEnvValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("CORY_SERVER_PORT", "not-a-port")
	t.Setenv("CORY_AUTOSAVE_INTERVAL", "soon")

	cfg, err := loadFromPath(filepath.Join(t.TempDir(), "none.toml"), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
	if cfg.AutoSave.Interval != 30*time.Second {
		t.Errorf("AutoSave.Interval = %s, want default", cfg.AutoSave.Interval)
	}
}

// TestKeychainFallback verifies the secret store is consulted when no key is in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `# no api key in file`)

	kc := mockKeychain{values: map[string]string{
		"gemini_api_key": "keychain-secret",
		"api_token":      "tok",
	}}
	cfg, err := loadFromPath(path, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AI.GeminiAPIKey != "keychain-secret" {
		t.Errorf("GeminiAPIKey = %q, want %q", cfg.AI.GeminiAPIKey, "keychain-secret")
	}
	if cfg.Server.APIToken != "tok" {
		t.Errorf("Server.APIToken = %q, want %q", cfg.Server.APIToken, "tok")
	}
	if cfg.APIKey("gemini") != "keychain-secret" {
		t.Errorf("APIKey(gemini) = %q", cfg.APIKey("gemini"))
	}
}

// TestValidation verifies impossible settings are rejected with the key name.
func TestValidation(t *testing.T) {
	cases := map[string]string{
		"[explore]\nmin_duration = \"10s\"\nmax_duration = \"5s\"": "explore.max_duration",
		"[analysis]\nprovider = \"claude\"":                        "analysis.provider",
		"[chat]\nprovider = \"bard\"":                              "chat.provider",
		"[ai]\nretry_attempts = 0":                                 "ai.retry_attempts",
		"[ai]\nrequest_timeout = \"0s\"":                           "ai.request_timeout",
		"[account]\nid = \" \"":                                    "account.id",
	}
	for content, want := range cases {
		clearEnv(t)
		_, err := loadFromPath(writeTempConfig(t, content), mockKeychain{})
		if err == nil {
			t.Errorf("config %q: expected error", content)
			continue
		}
		if !strings.Contains(err.Error(), want) {
			t.Errorf("config %q: error = %q, want it to mention %q", content, err, want)
		}
	}
}

// TestSetKeyRoundTrip verifies values written by SetKey are read back by Load.
func TestSetKeyRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cory", "config.toml")
	b := newFileBackend(path)

	if err := setKeyIn(b, "server.port", "4200"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if err := setKeyIn(b, "explore.min_duration", "3s"); err != nil {
		t.Fatalf("set min: %v", err)
	}
	if err := setKeyIn(b, "explore.max_duration", "9s"); err != nil {
		t.Fatalf("set max: %v", err)
	}
	if err := setKeyIn(b, "chat.model", "gpt-4o-mini"); err != nil {
		t.Fatalf("set model: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "[explore]") {
		t.Errorf("config file is not nested TOML:\n%s", raw)
	}

	cfg, err := loadFromPath(path, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Explore.MinDuration != 3*time.Second || cfg.Explore.MaxDuration != 9*time.Second {
		t.Errorf("Explore = %+v", cfg.Explore)
	}
	if cfg.Chat.Model != "gpt-4o-mini" {
		t.Errorf("Chat.Model = %q", cfg.Chat.Model)
	}
}

func TestSetKeyRejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.toml"))
	for _, tc := range []struct{ key, value string }{
		{"ai.openai_api_key", "sk-123"},
		{"server.port", "high"},
		{"explore.min_duration", "a while"},
		{"no.such.key", "x"},
	} {
		if err := setKeyIn(b, tc.key, tc.value); err == nil {
			t.Errorf("setKeyIn(%s, %s) succeeded, want error", tc.key, tc.value)
		}
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.AI.OpenAIAPIKey = "sk-very-secret"

	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "sk-very-secret") {
			t.Fatalf("secret leaked for %s", info.Key)
		}
		if info.Key == "ai.openai_api_key" && info.Value != "(set)" {
			t.Errorf("openai key shown as %q, want (set)", info.Value)
		}
		if info.Key == "ai.gemini_api_key" && info.Value != "(unset)" {
			t.Errorf("gemini key shown as %q, want (unset)", info.Value)
		}
	}
	for _, k := range ValidKeys() {
		if strings.HasSuffix(k, "_api_key") || k == "server.api_token" {
			t.Errorf("ValidKeys includes secret %s", k)
		}
	}
}
