package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when Load gets an empty path.
const ConfigPath = "config.yaml"

// Store drivers accepted in storeDriver.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	StoreDriver   string `yaml:"storeDriver"`
	StoreDSN      string `yaml:"storeDSN"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	SeedOnBoot    bool   `yaml:"seedOnBoot"`

	CORSOrigin                string   `yaml:"corsOrigin"`
	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"`
	ChatbotRateLimitPerMinute int      `yaml:"chatbotRateLimitPerMinute"`
	PublicBaseURL             string   `yaml:"publicBaseURL"`

	AssistantProvider string `yaml:"assistantProvider"`
	AssistantBaseURL  string `yaml:"assistantBaseURL"`
	AssistantAPIKey   string `yaml:"assistantApiKey"`
	AssistantModel    string `yaml:"assistantModel"`

	OutboxStream string `yaml:"outboxStream"`

	ArchiveEndpoint  string `yaml:"archiveEndpoint"`
	ArchiveAccessKey string `yaml:"archiveAccessKey"`
	ArchiveSecretKey string `yaml:"archiveSecretKey"`
	ArchiveBucket    string `yaml:"archiveBucket"`
	ArchiveUseSSL    bool   `yaml:"archiveUseSSL"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and environment overrides, then
// validates.
func Parse(data []byte) (FileConfig, error) {
	cfg := FileConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("CIRCLE_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("CIRCLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("CIRCLE_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.StoreDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CIRCLE_SEED_ON_BOOT"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.SeedOnBoot = b
		}
	}
	if v := os.Getenv("CIRCLE_CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = strings.TrimSpace(v)
	}
	if v := os.Getenv("CIRCLE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("CIRCLE_CHATBOT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.ChatbotRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CIRCLE_PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("ASSISTANT_PROVIDER"); v != "" {
		cfg.AssistantProvider = strings.TrimSpace(v)
	}
	if v := os.Getenv("ASSISTANT_BASE_URL"); v != "" {
		cfg.AssistantBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("ASSISTANT_API_KEY"); v != "" {
		cfg.AssistantAPIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("ASSISTANT_MODEL"); v != "" {
		cfg.AssistantModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("CIRCLE_OUTBOX_STREAM"); v != "" {
		cfg.OutboxStream = strings.TrimSpace(v)
	}
	if v := os.Getenv("ARCHIVE_ENDPOINT"); v != "" {
		cfg.ArchiveEndpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.ArchiveAccessKey = v
	}
	if v := os.Getenv("ARCHIVE_SECRET_KEY"); v != "" {
		cfg.ArchiveSecretKey = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.ArchiveBucket = strings.TrimSpace(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverMemory
	}
	if cfg.AssistantProvider == "" {
		cfg.AssistantProvider = "openai"
	}
	if cfg.ArchiveBucket == "" {
		cfg.ArchiveBucket = "carecircle-archive"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or CIRCLE_PORT)")
	}
	switch cfg.StoreDriver {
	case DriverMemory:
	case DriverRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required when storeDriver is redis")
		}
	case DriverPostgres, DriverSQLite:
		if strings.TrimSpace(cfg.StoreDSN) == "" {
			return fmt.Errorf("config: storeDSN is required when storeDriver is %s (set in config.yaml or DATABASE_URL)", cfg.StoreDriver)
		}
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	if cfg.ChatbotRateLimitPerMinute < 0 {
		return errors.New("config: chatbotRateLimitPerMinute must be >= 0")
	}
	if cfg.ChatbotRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for chatbot rate limiting")
	}
	if cfg.OutboxStream != "" && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when outboxStream is set")
	}
	if cfg.ArchiveEndpoint != "" && (cfg.ArchiveAccessKey == "" || cfg.ArchiveSecretKey == "") {
		return errors.New("config: archiveAccessKey and archiveSecretKey are required with archiveEndpoint")
	}
	return nil
}

// ArchiveEnabled reports whether Root snapshots go to object storage.
func (c FileConfig) ArchiveEnabled() bool {
	return strings.TrimSpace(c.ArchiveEndpoint) != ""
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
