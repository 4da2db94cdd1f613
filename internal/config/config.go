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
	// Server
	ServerURL string // 同期先サーバーのベースURL
	Username  string
	Password  string

	// Offline store
	DBPath      string // 空文字の場合はオフラインストアを無効化する
	OfflineDays int    // スナップショットの保持日数。0は無制限。

	// Sync
	SyncInterval  time.Duration // 定期同期の間隔
	SyncStaleness time.Duration // この時間を超えて同期していなければ同期する
	ItemsPerPage  int

	// Network
	RequestTimeout time.Duration
	APIRateLimit   float64 // サーバーAPIの1秒あたり最大リクエスト数。0は無制限。

	// Control API
	ListenAddr string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.ServerURL = os.Getenv("SERVER_URL")
	if cfg.ServerURL == "" {
		missing = append(missing, "SERVER_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.Username = getEnvString("USERNAME", "")
	cfg.Password = getEnvString("PASSWORD", "")
	cfg.DBPath = getEnvString("DB_PATH", "feedsync.db")
	cfg.OfflineDays = getEnvInt("OFFLINE_DAYS", 30)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 5*time.Minute)
	cfg.SyncStaleness = getEnvDuration("SYNC_STALENESS", 5*time.Minute)
	cfg.ItemsPerPage = getEnvInt("ITEMS_PER_PAGE", 50)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 10*time.Second)
	cfg.APIRateLimit = getEnvFloat("API_RATE_LIMIT", 5)
	cfg.ListenAddr = getEnvString("LISTEN_ADDR", "127.0.0.1:8453")

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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
