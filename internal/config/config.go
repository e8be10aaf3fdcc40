package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	ServerPort string `yaml:"server_port"`
	AppEnv     string `yaml:"app_env"`
	LogLevel   string `yaml:"log_level"`

	StorageDriver  string `yaml:"storage_driver"`
	DBHost         string `yaml:"db_host"`
	DBPort         int    `yaml:"db_port"`
	DBUser         string `yaml:"db_user"`
	DBPassword     string `yaml:"db_password"`
	DBName         string `yaml:"db_name"`
	DBSslMode      string `yaml:"db_sslmode"`
	DBMaxOpenConns int    `yaml:"db_max_open_conns"`
	DBAutoMigrate  bool   `yaml:"db_auto_migrate"`

	JWTSecret          string        `yaml:"jwt_secret"`
	JWTExpirationHours time.Duration `yaml:"-"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	StatsCacheTTL time.Duration `yaml:"stats_cache_ttl"`

	// WSSnapshotRate is the allowed snapshot requests per second per socket.
	WSSnapshotRate float64 `yaml:"ws_snapshot_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`

	Simulator SimulatorConfig `yaml:"simulator"`
}

type SimulatorConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Interval          time.Duration `yaml:"interval"`
	ChangeProbability float64       `yaml:"change_probability"`
	StartDelay        time.Duration `yaml:"start_delay"`
	RecoveryDelay     time.Duration `yaml:"recovery_delay"`
}

// Load reads .env (if present), the environment and then the optional CONFIG_FILE overlay.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	jwtExpHours := getEnvInt("JWT_EXPIRATION_HOURS", 24)

	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "3000"),
		AppEnv:     getEnv("APP_ENV", EnvDevelopment),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		StorageDriver:  getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnvInt("DB_PORT", 5432),
		DBUser:         getEnv("DB_USER", "parking"),
		DBPassword:     getEnv("DB_PASSWORD", "parking"),
		DBName:         getEnv("DB_NAME", "parking_db"),
		DBSslMode:      getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 20),
		DBAutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),

		JWTSecret:          getEnv("JWT_SECRET", "change-me-in-production"),
		JWTExpirationHours: time.Duration(jwtExpHours) * time.Hour,

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		StatsCacheTTL: getEnvDuration("STATS_CACHE_TTL", 30*time.Second),

		WSSnapshotRate: getEnvFloat("WS_SNAPSHOT_RATE", 1),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		Simulator: SimulatorConfig{
			Enabled:           getEnvBool("SIMULATOR_ENABLED", true),
			Interval:          getEnvDuration("SIMULATOR_INTERVAL", 15*time.Second),
			ChangeProbability: getEnvFloat("SIMULATOR_CHANGE_PROBABILITY", 0.3),
			StartDelay:        getEnvDuration("SIMULATOR_START_DELAY", 2*time.Second),
			RecoveryDelay:     getEnvDuration("SIMULATOR_RECOVERY_DELAY", 2*time.Minute),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay applies a YAML file on top of the environment values. ${VAR} references are expanded.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.Simulator.Interval <= 0 {
		return fmt.Errorf("simulator interval must be positive")
	}
	if c.Simulator.ChangeProbability < 0 || c.Simulator.ChangeProbability > 1 {
		return fmt.Errorf("simulator change probability must be within [0,1]")
	}
	if c.AppEnv == EnvProduction && c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
