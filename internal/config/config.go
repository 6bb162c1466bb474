// Package config provides unified configuration loading for the forms engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the forms engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Rasterize     RasterizeConfig     `yaml:"rasterize"`
	OCR           OCRConfig           `yaml:"ocr"`
	Parser        ParserConfig        `yaml:"parser"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadMB      int           `yaml:"max_upload_mb"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver               string         `yaml:"driver"` // sqlite or postgres
	MigrationsDir        string         `yaml:"migrations_dir"`
	CaseInsensitiveNames bool           `yaml:"case_insensitive_names"`
	SQLite               SQLiteConfig   `yaml:"sqlite"`
	Postgres             PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds parsed-record cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RasterizeConfig holds PDF page rendering settings.
type RasterizeConfig struct {
	Quality  int `yaml:"quality"`   // JPEG quality 1-100
	MaxPages int `yaml:"max_pages"` // 0 = unlimited
}

// OCRConfig holds text extraction settings.
type OCRConfig struct {
	Languages      []string      `yaml:"languages"`
	DPI            int           `yaml:"dpi"`
	Timeout        time.Duration `yaml:"timeout"`         // per-page recognition bound
	TimeoutRetries int           `yaml:"timeout_retries"` // extra attempts for a timed-out page
	Workers        int           `yaml:"workers"`         // concurrent page recognitions
	Enhance        bool          `yaml:"enhance"`
	MinPageWidth   int           `yaml:"min_page_width"` // upscale threshold for enhancement
}

// ParserConfig holds field parsing settings.
type ParserConfig struct {
	// DateLayouts is the ordered list of accepted date layouts, tried in
	// order. Fixing the list keeps parsing deterministic across locales.
	DateLayouts []string `yaml:"date_layouts"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadMB:      50,
		},
		Database: DatabaseConfig{
			Driver:        "sqlite",
			MigrationsDir: "db/migrations",
			SQLite: SQLiteConfig{
				Path:         "/tmp/forms-engine.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        30 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Rasterize: RasterizeConfig{
			Quality:  90,
			MaxPages: 0,
		},
		OCR: OCRConfig{
			Languages:      []string{"eng"},
			DPI:            300,
			Timeout:        30 * time.Second,
			TimeoutRetries: 2,
			Workers:        2,
			Enhance:        true,
			MinPageWidth:   1200,
		},
		Parser: ParserConfig{
			DateLayouts: nil, // nil means the built-in layout list
		},
		Observability: ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Rasterize.Quality < 1 || c.Rasterize.Quality > 100 {
		return fmt.Errorf("rasterize quality must be between 1 and 100, got %d", c.Rasterize.Quality)
	}

	if len(c.OCR.Languages) == 0 {
		return fmt.Errorf("at least one OCR language is required")
	}

	if c.OCR.Workers < 1 {
		return fmt.Errorf("ocr workers must be at least 1, got %d", c.OCR.Workers)
	}

	if c.OCR.DPI < 70 || c.OCR.DPI > 2400 {
		return fmt.Errorf("ocr dpi must be between 70 and 2400, got %d", c.OCR.DPI)
	}

	if c.OCR.TimeoutRetries < 0 {
		return fmt.Errorf("ocr timeout retries cannot be negative, got %d", c.OCR.TimeoutRetries)
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
// SQLite DSNs enable foreign key enforcement, which is off by default.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		dsn := c.Database.SQLite.Path + "?_foreign_keys=on"
		if c.Database.SQLite.JournalMode != "" {
			dsn += "&_journal_mode=" + c.Database.SQLite.JournalMode
		}
		return dsn
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Database.Postgres.DSN = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		addr := strings.TrimPrefix(v, "redis://")
		cfg.Cache.Redis.Addr = addr
	}

	if v := os.Getenv("OCR_LANGUAGES"); v != "" {
		var langs []string
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		if len(langs) > 0 {
			cfg.OCR.Languages = langs
		}
	}

	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		cfg.Database.MigrationsDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
