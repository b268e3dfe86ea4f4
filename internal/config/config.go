package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers understood by the server.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Cache drivers understood by the server.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config holds application level configuration. Values come from defaults,
// then an optional YAML file named by CONFIG_FILE, then environment
// variables (a .env file in the working directory is loaded first).
type Config struct {
	ServerPort     string `yaml:"server_port"`
	ServerIdentity string `yaml:"server_identity"`

	StoreDriver     string `yaml:"store_driver"`
	StoreDSN        string `yaml:"store_dsn"`
	StoreDataDir    string `yaml:"store_data_dir"`
	StoreCollection string `yaml:"store_collection"`
	StoreDebug      bool   `yaml:"store_debug"`

	CacheDriver string        `yaml:"cache_driver"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisDB     int           `yaml:"redis_db"`
	RedisPass   string        `yaml:"redis_password"`

	AdminUsername  string `yaml:"admin_username"`
	AdminPassword  string `yaml:"admin_password"`
	BootstrapAdmin bool   `yaml:"bootstrap_admin"`

	LogEnv   string `yaml:"log_env"`
	LogLevel string `yaml:"log_level"`

	SwaggerHost string `yaml:"swagger_host"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServerPort:      "8000",
		ServerIdentity:  "echo server",
		StoreDriver:     DriverSQLite,
		StoreDataDir:    "./data",
		StoreCollection: "users",
		CacheDriver:     CacheNone,
		CacheTTL:        5 * time.Minute,
		RedisAddr:       "localhost:6379",
		AdminUsername:   "admin",
		AdminPassword:   "admin",
		BootstrapAdmin:  true,
		LogEnv:          "dev",
		LogLevel:        "info",
	}
}

// Load builds Config from the YAML file and environment with sensible defaults.
func Load() (*Config, error) {
	// a missing .env is the normal case outside development
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.ServerIdentity = getEnv("SERVER_IDENTITY", cfg.ServerIdentity)
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", cfg.StoreDriver))
	cfg.StoreDSN = getEnv("STORE_DSN", cfg.StoreDSN)
	cfg.StoreDataDir = getEnv("STORE_DATA_DIR", cfg.StoreDataDir)
	cfg.StoreCollection = getEnv("STORE_COLLECTION", cfg.StoreCollection)
	cfg.StoreDebug = getEnvBool("STORE_DEBUG", cfg.StoreDebug)
	cfg.CacheDriver = strings.ToLower(getEnv("CACHE_DRIVER", cfg.CacheDriver))
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.RedisPass = getEnv("REDIS_PASSWORD", cfg.RedisPass)
	cfg.AdminUsername = getEnv("ADMIN_USERNAME", cfg.AdminUsername)
	cfg.AdminPassword = getEnv("ADMIN_PASSWORD", cfg.AdminPassword)
	cfg.BootstrapAdmin = getEnvBool("BOOTSTRAP_ADMIN", cfg.BootstrapAdmin)
	cfg.LogEnv = getEnv("LOG_ENV", cfg.LogEnv)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SwaggerHost = getEnv("SWAGGER_HOST", cfg.SwaggerHost)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverBadger:
	case DriverMySQL, DriverPostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("store driver %q requires STORE_DSN", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.StoreDriver)
	}
	switch c.CacheDriver {
	case CacheMemory, CacheRedis, CacheNone:
	default:
		return fmt.Errorf("unsupported cache driver %q", c.CacheDriver)
	}
	if c.StoreCollection == "" {
		return fmt.Errorf("store collection must not be empty")
	}
	if c.AdminUsername == "" {
		return fmt.Errorf("admin username must not be empty")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
