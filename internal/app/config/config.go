// Package config はアプリケーション全体の設定を読み込みます。
// 優先順位は デフォルト → YAML（CONFIG_FILE）→ 環境変数 です。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"twstock_backend/internal/platform/db"
	"twstock_backend/internal/platform/externalapi/fubon"
	"twstock_backend/internal/platform/logger"
	"twstock_backend/internal/platform/redis"
)

const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// ScheduleParser は WARM_SCHEDULE の書式（秒フィールド付き、または @daily 等）です。
var ScheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config はサーバーとインジェストコマンドが共有する設定です。
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	DataDir     string `yaml:"data_dir"`
	StoreDriver string `yaml:"store_driver"`

	MaxSpanDays         int `yaml:"max_span_days"`
	ContextLookbackDays int `yaml:"context_lookback_days"`
	RateLimitPerMinute  int `yaml:"rate_limit_per_minute"`

	WarmConcurrency  int      `yaml:"warm_concurrency"`
	WarmLookbackDays int      `yaml:"warm_lookback_days"`
	WarmSchedule     string   `yaml:"warm_schedule"`
	WatchSymbols     []string `yaml:"watch_symbols"`

	CacheNamespace string   `yaml:"cache_namespace"`
	JWTSecret      string   `yaml:"jwt_secret"`
	CORSOrigins    []string `yaml:"cors_origins"`

	Log   logger.Config `yaml:"-"`
	DB    db.Config     `yaml:"-"`
	Redis redis.Config  `yaml:"-"`
	Fubon fubon.Config  `yaml:"-"`
}

// Default はすべてのデフォルト値を設定した Config を返します。
func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		ShutdownTimeout:     10 * time.Second,
		DataDir:             defaultDataDir(),
		StoreDriver:         StoreFile,
		MaxSpanDays:         365,
		ContextLookbackDays: 14,
		RateLimitPerMinute:  60,
		WarmConcurrency:     2,
		WarmLookbackDays:    30,
		WarmSchedule:        "0 30 14 * * 1-5",
		CacheNamespace:      "candles",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".fubon-mcp", "data")
	}
	return filepath.Join(home, ".fubon-mcp", "data")
}

// Load は .env、CONFIG_FILE、環境変数の順に読み込み、検証済みの Config を返します。
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeYAML(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	cfg.Log = logger.LoadConfig()
	cfg.DB = db.LoadConfigFromEnv()
	cfg.Redis = redis.LoadConfig()
	cfg.Fubon = fubon.LoadConfig()
	if cfg.StoreDriver == StoreSQLite || cfg.StoreDriver == StorePostgres {
		cfg.DB.Driver = cfg.StoreDriver
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	envString("HTTP_ADDR", &c.HTTPAddr)
	envDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	envString("FUBON_DATA_DIR", &c.DataDir)
	envString("STORE_DRIVER", &c.StoreDriver)
	envInt("MAX_SPAN_DAYS", &c.MaxSpanDays)
	envInt("CONTEXT_LOOKBACK_DAYS", &c.ContextLookbackDays)
	envInt("RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute)
	envInt("WARM_CONCURRENCY", &c.WarmConcurrency)
	envInt("WARM_LOOKBACK_DAYS", &c.WarmLookbackDays)
	envString("WARM_SCHEDULE", &c.WarmSchedule)
	envList("WATCH_SYMBOLS", &c.WatchSymbols)
	envString("CACHE_NAMESPACE", &c.CacheNamespace)
	envString("JWT_SECRET", &c.JWTSecret)
	envList("CORS_ALLOWED_ORIGINS", &c.CORSOrigins)
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
}

// Validate は設定値の整合性を検証します。
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreFile:
		if c.DataDir == "" {
			errs = append(errs, errors.New("FUBON_DATA_DIR must not be empty"))
		}
	case StoreSQLite, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of file, sqlite, postgres: %q", c.StoreDriver))
	}
	if c.MaxSpanDays <= 0 {
		errs = append(errs, fmt.Errorf("MAX_SPAN_DAYS must be positive: %d", c.MaxSpanDays))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative: %d", c.RateLimitPerMinute))
	}
	if c.WarmConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("WARM_CONCURRENCY must be positive: %d", c.WarmConcurrency))
	}
	if c.WarmLookbackDays <= 0 {
		errs = append(errs, fmt.Errorf("WARM_LOOKBACK_DAYS must be positive: %d", c.WarmLookbackDays))
	}
	if _, err := ScheduleParser.Parse(c.WarmSchedule); err != nil {
		errs = append(errs, fmt.Errorf("WARM_SCHEDULE %q: %w", c.WarmSchedule, err))
	}
	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env, using default", "key", key, "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env, using default", "key", key, "value", v, "default", *dst)
		return
	}
	*dst = d
}

// envList は "2330, 0050,00878" のようなカンマ区切りを読み取ります。
func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}
