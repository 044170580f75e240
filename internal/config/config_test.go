package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
port: "8080"
chatAPIBaseURL: "https://api.example.com/v1"
chatModel: "gpt-4o-mini"
sessionSecret: "0123456789abcdef0123456789abcdef"
accessPasswordHash: "$2a$12$abcdefghijklmnopqrstuv"
redisAddr: "localhost:6379"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.ChatModel != "gpt-4o-mini" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.CatalogBaseURL != "https://openlibrary.org" {
		t.Fatalf("catalog default = %q", cfg.CatalogBaseURL)
	}
	if cfg.IngestConcurrency != 2 || cfg.IngestMaxRetries != 3 {
		t.Fatalf("ingest defaults = %d/%d", cfg.IngestConcurrency, cfg.IngestMaxRetries)
	}
	if cfg.ChatRatePerMinute != 20 {
		t.Fatalf("rate default = %d", cfg.ChatRatePerMinute)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_API_BASE_URL", "https://override.example.com/v1")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChatAPIBaseURL != "https://override.example.com/v1" {
		t.Fatalf("chatAPIBaseURL = %q", cfg.ChatAPIBaseURL)
	}
	if cfg.RedisAddr != "redis.internal:6379" {
		t.Fatalf("redisAddr = %q", cfg.RedisAddr)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing port", strings.Replace(validYAML, `port: "8080"`, "", 1), "port is required"},
		{"missing model", strings.Replace(validYAML, `chatModel: "gpt-4o-mini"`, "", 1), "chatModel is required"},
		{"missing secret", strings.Replace(validYAML, `sessionSecret: "0123456789abcdef0123456789abcdef"`, "", 1), "sessionSecret is required"},
		{"missing password hash", strings.Replace(validYAML, `accessPasswordHash: "$2a$12$abcdefghijklmnopqrstuv"`, "", 1), "accessPasswordHash is required"},
		{"minio without creds", validYAML + "\nminioEndpoint: \"minio:9000\"\n", "minio credentials"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
