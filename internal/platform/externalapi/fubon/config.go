// Package fubon は富邦証券マーケットデータREST APIのクライアントを提供します。
package fubon

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"
)

const (
	defaultBaseURL      = "https://api.fugle.tw/marketdata/v1.0/stock"
	defaultTimeout      = 10 * time.Second
	defaultMaxRetries   = 2
	defaultRetryBackoff = 500 * time.Millisecond
)

// ErrMissingCredentials is returned by Validate when login settings are absent.
var ErrMissingCredentials = errors.New("FUBON_USERNAME, FUBON_PASSWORD and FUBON_PFX_PATH are required")

// Config は富邦APIクライアントの設定を保持します。
type Config struct {
	Username     string        // ログインID（身分証字號）
	Password     string        // ログインパスワード
	PFXPath      string        // 電子証明書（.pfx）のパス
	PFXPassword  string        // 電子証明書のパスワード（未設定なら空）
	BaseURL      string        // マーケットデータAPIのベースURL
	LoginURL     string        // ログインエンドポイント（相互TLS）
	Timeout      time.Duration // HTTPリクエストタイムアウト
	MaxRetries   int           // 再試行可能なエラーに対する最大再試行回数
	RetryBackoff time.Duration // 再試行間隔の初期値（試行ごとに倍増）
}

// LoadConfig は環境変数から富邦APIの設定を読み込みます。
func LoadConfig() Config {
	cfg := Config{
		Username:     os.Getenv("FUBON_USERNAME"),
		Password:     os.Getenv("FUBON_PASSWORD"),
		PFXPath:      os.Getenv("FUBON_PFX_PATH"),
		PFXPassword:  os.Getenv("FUBON_PFX_PASSWORD"),
		BaseURL:      os.Getenv("FUBON_BASE_URL"),
		LoginURL:     os.Getenv("FUBON_LOGIN_URL"),
		Timeout:      envDuration("FUBON_TIMEOUT", defaultTimeout),
		MaxRetries:   envInt("FUBON_MAX_RETRIES", defaultMaxRetries),
		RetryBackoff: envDuration("FUBON_RETRY_BACKOFF", defaultRetryBackoff),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = cfg.BaseURL + "/auth/login"
	}
	return cfg
}

// Validate は上流呼び出しに必要な認証情報が揃っているか検証します。
func (c Config) Validate() error {
	if c.Username == "" || c.Password == "" || c.PFXPath == "" {
		return ErrMissingCredentials
	}
	return nil
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}
