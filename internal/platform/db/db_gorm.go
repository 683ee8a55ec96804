// Package db はメタデータおよびSQLローソク足ストア用のgorm接続を提供します。
package db

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	retryInterval         = 3 * time.Second
	defaultConnectTimeout = 60 * time.Second
)

// ErrUnsupportedDriver is returned for a driver other than sqlite or postgres.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Config はデータベース接続設定です。
type Config struct {
	Driver       string // "sqlite" | "postgres"
	SQLitePath   string // sqlite のファイルパス
	URL          string // DATABASE_URL（設定時は個別項目より優先）
	User         string
	Password     string
	Name         string
	Host         string
	Port         string
	SSLMode      string
	InstanceName string // Cloud SQL のインスタンス接続名（Unixソケット経由）

	ConnectTimeout time.Duration
}

// LoadConfigFromEnv は環境変数からデータベース設定を読み込みます。
func LoadConfigFromEnv() Config {
	cfg := Config{
		Driver:         os.Getenv("DB_DRIVER"),
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		URL:            os.Getenv("DATABASE_URL"),
		User:           os.Getenv("DB_USER"),
		Password:       os.Getenv("DB_PASSWORD"),
		Name:           os.Getenv("DB_NAME"),
		Host:           os.Getenv("DB_HOST"),
		Port:           os.Getenv("DB_PORT"),
		SSLMode:        os.Getenv("DB_SSLMODE"),
		InstanceName:   os.Getenv("INSTANCE_CONNECTION_NAME"),
		ConnectTimeout: defaultConnectTimeout,
	}
	if cfg.Driver == "" {
		if cfg.URL != "" || cfg.Host != "" || cfg.InstanceName != "" {
			cfg.Driver = DriverPostgres
		} else {
			cfg.Driver = DriverSQLite
		}
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "twstock.db"
	}
	return cfg
}

// BuildDSN はドライバに応じた接続文字列を組み立てます。
// postgres では InstanceName が Host/Port より優先されます。
func BuildDSN(cfg Config) string {
	if cfg.Driver == DriverSQLite {
		return cfg.SQLitePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}
	if cfg.URL != "" {
		return cfg.URL
	}

	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts := []string{}
	if cfg.InstanceName != "" {
		parts = append(parts, "host=/cloudsql/"+cfg.InstanceName)
	} else {
		parts = append(parts, "host="+cfg.Host, "port="+cfg.Port)
	}
	parts = append(parts,
		"user="+cfg.User,
		"password="+cfg.Password,
		"dbname="+cfg.Name,
		"sslmode="+sslmode,
		"TimeZone=UTC",
	)
	return strings.Join(parts, " ")
}

// Open は設定に従ってデータベースへ接続します。postgres のDSNは接続前に pgx で検証します。
func Open(cfg Config) (*gorm.DB, error) {
	dsn := BuildDSN(cfg)
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var opener func(string) (*gorm.DB, error)
	switch cfg.Driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		opener = func(dsn string) (*gorm.DB, error) { return gorm.Open(sqlite.Open(dsn), gcfg) }
	case DriverPostgres:
		if _, err := pgx.ParseConfig(dsn); err != nil {
			return nil, fmt.Errorf("invalid postgres dsn: %w", err)
		}
		opener = func(dsn string) (*gorm.DB, error) { return gorm.Open(postgres.Open(dsn), gcfg) }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	db, err := ConnectWithRetry(dsn, timeout, opener)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == DriverSQLite {
		// SQLite は書き込みを直列化する必要があるため1接続に固定します。
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	slog.Info("database connected", "driver", cfg.Driver)
	return db, nil
}

// ConnectWithRetry は timeout に達するまで retryInterval 間隔で接続を試みます。
func ConnectWithRetry(dsn string, timeout time.Duration, opener func(string) (*gorm.DB, error)) (*gorm.DB, error) {
	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		attempt++
		db, err := opener(dsn)
		if err == nil {
			return db, nil
		}
		if time.Now().Add(retryInterval).After(deadline) {
			return nil, fmt.Errorf("db connect failed after %d attempts: %w", attempt, err)
		}
		slog.Warn("DB connect failed, retrying", "attempt", attempt, "error", err)
		time.Sleep(retryInterval)
	}
}

// Migrate は指定されたモデルのテーブルを作成・更新します。
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
