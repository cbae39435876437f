package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/kitchenhub/internal/model"
)

// ストアの実装を選択するSTORE_DRIVERの値。
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver   string
	DatabaseURL   string
	RemovalPolicy model.RemovalPolicy

	// Server
	ServerPort     string
	AllowedOrigins []string

	// Session
	SessionCookieName      string
	SessionCleanupInterval time.Duration

	// WebSocket
	WSMaxMessageSize int64
	WSSendBuffer     int
	WSMessageRate    float64
	WSMessageBurst   int
	ApplyTimeout     time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitUpload  int

	// Images
	ImageMaxSize int64
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や列挙値が不正な場合は、該当する変数を全て列挙したエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing, invalid []string

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverPostgres))
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverMemory:
	default:
		invalid = append(invalid, "STORE_DRIVER")
	}

	cfg.RemovalPolicy = model.RemovalPolicy(strings.ToLower(getEnvString("REMOVAL_POLICY", string(model.RemovalClamp))))
	if cfg.RemovalPolicy != model.RemovalClamp && cfg.RemovalPolicy != model.RemovalReject {
		invalid = append(invalid, "REMOVAL_POLICY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables have invalid values: %v", invalid)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AllowedOrigins = getEnvList("ALLOWED_ORIGINS")
	cfg.SessionCookieName = getEnvString("SESSION_COOKIE_NAME", "session_token")
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.WSMaxMessageSize = getEnvInt64("WS_MAX_MESSAGE_SIZE", 8192)
	cfg.WSSendBuffer = getEnvInt("WS_SEND_BUFFER", 256)
	cfg.WSMessageRate = getEnvFloat("WS_MESSAGE_RATE", 20)
	cfg.WSMessageBurst = getEnvInt("WS_MESSAGE_BURST", 40)
	cfg.ApplyTimeout = getEnvDuration("APPLY_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitUpload = getEnvInt("RATE_LIMIT_UPLOAD", 10)
	cfg.ImageMaxSize = getEnvInt64("IMAGE_MAX_SIZE", 5242880)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
