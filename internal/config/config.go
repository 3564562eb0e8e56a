package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity Provider
	IdentityBaseURL      string
	IdentityAPIKey       string
	IdentityRefreshToken string // 起動時のセッション再構築用（任意）

	// Token Refresh
	RefreshMargin   time.Duration
	RefreshInterval time.Duration

	// Rate Limit
	RateLimitLogin int // ログイン/登録エンドポイント（req/min/IP）

	// Server
	ServerPort     string
	MaxConnections int

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.IdentityBaseURL = os.Getenv("IDENTITY_BASE_URL")
	if cfg.IdentityBaseURL == "" {
		missing = append(missing, "IDENTITY_BASE_URL")
	}

	cfg.IdentityAPIKey = os.Getenv("IDENTITY_API_KEY")
	if cfg.IdentityAPIKey == "" {
		missing = append(missing, "IDENTITY_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.IdentityRefreshToken = getEnvString("IDENTITY_REFRESH_TOKEN", "")
	cfg.RefreshMargin = getEnvDuration("REFRESH_MARGIN", 60*time.Second)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 30*time.Second)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MaxConnections = getEnvInt("MAX_CONNECTIONS", 256)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
