package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingBotToken    = errors.New("BOT_TOKEN is required")
	ErrMissingBackendURL  = errors.New("BACKEND_URL is required")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrInvalidLanguage    = errors.New("DEFAULT_LANGUAGE must be one of en, hi, te, kn")
)

type Config struct {
	BotToken string

	DevPolling bool

	Backend BackendConfig
	Server  ServerConfig
	Redis   RedisConfig
	DB      DBConfig
	Rate    RateConfig
	Seal    SealConfig
	Log     LogConfig

	DefaultLanguage string
}

type BackendConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

type ServerConfig struct {
	ListenAddr     string
	PublicURL      string
	SecretPath     string
	SecretToken    string
	HealthPath     string
	MetricsPath    string
	WebhookTimeout time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	UpdateTTL time.Duration
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RateConfig struct {
	PerHour int64
}

// SealConfig carries the optional key ring for history-at-rest encryption.
// No keys means history is stored as plain JSON.
type SealConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

func (c SealConfig) Enabled() bool { return len(c.Keys) > 0 }

type LogConfig struct {
	Level string
}

var knownLanguages = map[string]bool{"en": true, "hi": true, "te": true, "kn": true}

func Load() (*Config, error) {
	cfg := &Config{
		BotToken:   mustEnv("BOT_TOKEN", ""),
		DevPolling: mustBool("DEV_POLLING", true),
		Backend: BackendConfig{
			BaseURL:     mustEnv("BACKEND_URL", "http://127.0.0.1:8000"),
			Timeout:     mustDuration("BACKEND_TIMEOUT", 60*time.Second),
			MaxRetries:  mustInt("BACKEND_MAX_RETRIES", 2),
			BackoffBase: mustDuration("BACKEND_BACKOFF_BASE", 400*time.Millisecond),
		},
		Server: ServerConfig{
			ListenAddr:     mustEnv("LISTEN_ADDR", ":8080"),
			PublicURL:      mustEnv("WEBHOOK_URL", ""),
			SecretPath:     strings.Trim(mustEnv("WEBHOOK_SECRET_PATH", "telegram"), "/"),
			SecretToken:    mustEnv("WEBHOOK_SECRET_TOKEN", ""),
			HealthPath:     mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:    mustEnv("METRICS_PATH", "/metrics"),
			WebhookTimeout: mustDuration("WEBHOOK_TIMEOUT", 8*time.Second),
		},
		Redis: RedisConfig{
			Addr:      mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  mustEnv("REDIS_PASSWORD", ""),
			DB:        mustInt("REDIS_DB", 0),
			UpdateTTL: mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:agrobot.db?_pragma=busy_timeout(5000)"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 30)),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
		DefaultLanguage: strings.ToLower(mustEnv("DEFAULT_LANGUAGE", "en")),
	}

	if cfg.BotToken == "" {
		return nil, ErrMissingBotToken
	}
	if cfg.Backend.BaseURL == "" {
		return nil, ErrMissingBackendURL
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if !knownLanguages[cfg.DefaultLanguage] {
		return nil, ErrInvalidLanguage
	}

	sc, err := loadSealConfig()
	if err != nil {
		return nil, err
	}
	cfg.Seal = sc

	return cfg, nil
}

// loadSealConfig reads the optional master key ring: MASTER_KEYS_JSON with
// {"id":"base64key"} pairs, or the single-key MASTER_KEY_B64 shortcut.
func loadSealConfig() (SealConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return SealConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return SealConfig{}, nil
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return SealConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return SealConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		for id := range keys {
			current = id
			break
		}
	}
	if _, ok := keys[current]; !ok {
		return SealConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return SealConfig{CurrentKeyID: current, Keys: keys}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
