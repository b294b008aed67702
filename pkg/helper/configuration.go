package helper

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/yishak-cs/cartrecs/internal/aisuggest"
	database "github.com/yishak-cs/cartrecs/internal/database"
	"github.com/yishak-cs/cartrecs/internal/database/sqlstore"
	"github.com/yishak-cs/cartrecs/internal/mining"
	"github.com/yishak-cs/cartrecs/internal/personalize"
	"github.com/yishak-cs/cartrecs/internal/services"
	"github.com/yishak-cs/cartrecs/internal/session"
	"github.com/yishak-cs/cartrecs/internal/validation"
)

// ConfigFileEnvVar overrides the config file search.
const ConfigFileEnvVar = "RECS_CONFIG_FILE"

// DefaultConfigPaths are searched in order when RECS_CONFIG_FILE is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig       `koanf:"server"`
	Log         LogConfig          `koanf:"log"`
	Ledger      LedgerConfig       `koanf:"ledger"`
	Neo4j       database.Config    `koanf:"neo4j"`
	SQL         sqlstore.Config    `koanf:"sql"`
	Mining      MiningConfig       `koanf:"mining"`
	Personalize personalize.Config `koanf:"personalize"`
	AI          aisuggest.Config   `koanf:"ai"`
	Suggest     services.Config    `koanf:"suggest"`
	Session     SessionConfig      `koanf:"session"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string        `koanf:"port" validate:"required,numeric"`
	Mode            string        `koanf:"mode" validate:"oneof=debug release test"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig selects the zap preset and level.
type LogConfig struct {
	Mode  string `koanf:"mode" validate:"oneof=dev prod"`
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// LedgerConfig picks where orders, stats and the menu are read from.
type LedgerConfig struct {
	Backend        string        `koanf:"backend" validate:"oneof=neo4j sql"`
	EnsureSchema   bool          `koanf:"ensure_schema"`
	StartupTimeout time.Duration `koanf:"startup_timeout" validate:"gt=0"`
}

// MiningConfig tunes rule refreshes.
type MiningConfig struct {
	Thresholds      mining.Thresholds `koanf:"thresholds"`
	RefreshInterval time.Duration     `koanf:"refresh_interval" validate:"gte=0"`
	RefreshOnStart  bool              `koanf:"refresh_on_start"`
	Persist         bool              `koanf:"persist"`
}

// SessionConfig selects where fallback notice claims live.
type SessionConfig struct {
	Store   string              `koanf:"store" validate:"oneof=memory redis"`
	IdleTTL time.Duration       `koanf:"idle_ttl" validate:"gt=0"`
	Redis   session.RedisConfig `koanf:"redis"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Mode:            "release",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Mode:  "prod",
			Level: "info",
		},
		Ledger: LedgerConfig{
			Backend:        "neo4j",
			EnsureSchema:   true,
			StartupTimeout: 30 * time.Second,
		},
		Neo4j: database.Config{
			Username: "neo4j",
			Database: "neo4j",
		},
		SQL: sqlstore.Config{
			Driver: "postgres",
		},
		Mining: MiningConfig{
			Thresholds:      mining.DefaultThresholds(),
			RefreshInterval: 6 * time.Hour,
			RefreshOnStart:  true,
			Persist:         true,
		},
		Personalize: personalize.DefaultConfig(),
		AI:          aisuggest.DefaultConfig(),
		Suggest:     services.DefaultConfig(),
		Session: SessionConfig{
			Store:   "memory",
			IdleTTL: time.Hour,
			Redis: session.RedisConfig{
				KeyPrefix: "cartrecs:notice:",
				NoticeTTL: 24 * time.Hour,
			},
		},
	}
}

// envMappings maps environment variables onto koanf paths. Unlisted
// variables are ignored.
var envMappings = map[string]string{
	"app_port":              "server.port",
	"gin_mode":              "server.mode",
	"cors_origins":          "server.cors_origins",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"log_mode":  "log.mode",
	"log_level": "log.level",

	"recs_ledger":          "ledger.backend",
	"recs_ensure_schema":   "ledger.ensure_schema",
	"recs_startup_timeout": "ledger.startup_timeout",

	"neo4j_uri":      "neo4j.uri",
	"neo4j_username": "neo4j.username",
	"neo4j_password": "neo4j.password",
	"neo4j_database": "neo4j.database",

	"sql_driver":   "sql.driver",
	"database_url": "sql.dsn",

	"recs_min_support":      "mining.thresholds.min_support",
	"recs_min_confidence":   "mining.thresholds.min_confidence",
	"recs_refresh_interval": "mining.refresh_interval",
	"recs_refresh_on_start": "mining.refresh_on_start",
	"recs_persist_edges":    "mining.persist",

	"recs_top_k":              "personalize.top_k",
	"recs_recency_window":     "personalize.recency_window",
	"recs_recency_floor":      "personalize.recency_floor",
	"recs_personalized_limit": "personalize.limit",

	"recs_detail_limit":    "suggest.detail_limit",
	"recs_cart_limit":      "suggest.cart_limit",
	"recs_request_timeout": "suggest.request_timeout",

	"ai_enabled":          "ai.enabled",
	"ai_timeout":          "ai.timeout",
	"ai_menu_sample_size": "ai.menu_sample_size",
	"ai_rule_sample_size": "ai.rule_sample_size",
	"ai_max_suggestions":  "ai.max_suggestions",
	"ai_breaker_failures": "ai.breaker_failures",
	"ai_breaker_cooldown": "ai.breaker_cooldown",
	"openai_api_key":      "ai.openai.api_key",
	"openai_base_url":     "ai.openai.base_url",
	"openai_model":        "ai.openai.model",
	"openai_temperature":  "ai.openai.temperature",
	"openai_max_tokens":   "ai.openai.max_tokens",

	"session_store":    "session.store",
	"session_idle_ttl": "session.idle_ttl",
	"redis_addr":       "session.redis.addr",
	"redis_password":   "session.redis.password",
	"redis_db":         "session.redis.db",
	"redis_key_prefix": "session.redis.key_prefix",
	"redis_notice_ttl": "session.redis.notice_ttl",
}

func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

var sliceConfigPaths = []string{"server.cors_origins"}

// LoadConfigFromEnv loads the configuration from struct defaults, then an
// optional YAML file, then environment variables, and validates the result.
func LoadConfigFromEnv() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for _, path := range sliceConfigPaths {
		if raw, ok := k.Get(path).(string); ok {
			parts := strings.Split(raw, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			if err := k.Set(path, out); err != nil {
				return nil, fmt.Errorf("failed to split %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	switch c.Ledger.Backend {
	case "neo4j":
		if strings.TrimSpace(c.Neo4j.URI) == "" {
			return fmt.Errorf("NEO4J_URI is required when the ledger backend is neo4j")
		}
	case "sql":
		if strings.TrimSpace(c.SQL.DSN) == "" {
			return fmt.Errorf("DATABASE_URL is required when the ledger backend is sql")
		}
	}
	if c.Session.Store == "redis" && strings.TrimSpace(c.Session.Redis.Addr) == "" {
		return fmt.Errorf("REDIS_ADDR is required when the session store is redis")
	}
	return nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigFileEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
