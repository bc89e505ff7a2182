package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Detection DetectionConfig `yaml:"detection"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	RequestTimeout int    `yaml:"request_timeout_secs"`
}

// ProvidersConfig configures the upstream data providers.
type ProvidersConfig struct {
	CoinGecko ProviderConfig `yaml:"coingecko"`
	Zapper    ProviderConfig `yaml:"zapper"`
}

// ProviderConfig configures one upstream provider.
type ProviderConfig struct {
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"`
	RPS       float64 `yaml:"rps"`
	Burst     int     `yaml:"burst"`
	RPMBudget int     `yaml:"rpm_budget"`
}

// CacheConfig configures the in-memory cache and snapshot persistence TTLs.
type CacheConfig struct {
	MaxEntries      int `yaml:"max_entries"`
	WalletTTLSecs   int `yaml:"wallet_ttl_secs"`
	SnapshotTTLSecs int `yaml:"snapshot_ttl_secs"`
}

// DetectionConfig configures the fumble detector.
type DetectionConfig struct {
	WindowDays      int     `yaml:"window_days"`
	RallyMultiplier float64 `yaml:"rally_multiplier"`
	MaxConcurrency  int     `yaml:"max_concurrency"`
}

// PostgresConfig configures user and wallet persistence.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RedisConfig configures leaderboard snapshot persistence. Disabled when
// Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret       string `yaml:"secret"`
	TokenTTLMins int    `yaml:"token_ttl_mins"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RequestTimeout: 25,
		},
		Providers: ProvidersConfig{
			CoinGecko: ProviderConfig{
				BaseURL:   "https://api.coingecko.com/api/v3",
				RPS:       2,
				Burst:     4,
				RPMBudget: 30,
			},
			Zapper: ProviderConfig{
				BaseURL: "https://public.zapper.xyz/graphql",
				RPS:     5,
				Burst:   10,
			},
		},
		Cache: CacheConfig{
			MaxEntries:      4096,
			WalletTTLSecs:   600,
			SnapshotTTLSecs: 1800,
		},
		Detection: DetectionConfig{
			WindowDays:      30,
			RallyMultiplier: 1.2,
			MaxConcurrency:  8,
		},
		Postgres: PostgresConfig{
			DSN:         "postgres://localhost/jeetboard?sslmode=disable",
			TimeoutSecs: 5,
		},
		Auth: AuthConfig{
			TokenTTLMins: 60 * 24,
		},
	}
}

// Load reads the YAML config at path, layered over Default and under
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays secrets and deployment-specific values from the
// environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("JEETBOARD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("JEETBOARD_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		c.Providers.CoinGecko.APIKey = v
	}
	if v := os.Getenv("ZAPPER_API_KEY"); v != "" {
		c.Providers.Zapper.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.Secret = v
	}
}

// Validate ensures the configuration is consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 0-65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout_secs must be positive, got %d", c.Server.RequestTimeout)
	}
	if c.Detection.RallyMultiplier <= 1 {
		return fmt.Errorf("rally_multiplier must exceed 1, got %f", c.Detection.RallyMultiplier)
	}
	if c.Detection.WindowDays <= 0 {
		return fmt.Errorf("window_days must be positive, got %d", c.Detection.WindowDays)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.WalletTTLSecs <= 0 || c.Cache.SnapshotTTLSecs <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Providers.CoinGecko.BaseURL == "" || c.Providers.Zapper.BaseURL == "" {
		return fmt.Errorf("provider base URLs cannot be empty")
	}
	return nil
}

// WalletTTL returns the wallet analysis cache TTL.
func (c *Config) WalletTTL() time.Duration {
	return time.Duration(c.Cache.WalletTTLSecs) * time.Second
}

// SnapshotTTL returns the leaderboard snapshot cache TTL.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Cache.SnapshotTTLSecs) * time.Second
}

// DetectionWindow returns the symmetric peak search window.
func (c *Config) DetectionWindow() time.Duration {
	return time.Duration(c.Detection.WindowDays) * 24 * time.Hour
}
