package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TrackerBackend はトラッカーの永続化先を表す。
type TrackerBackend string

const (
	// TrackerBackendFile はローカルファイルにJSONドキュメントとして保存する。
	TrackerBackendFile TrackerBackend = "file"
	// TrackerBackendPostgres はPostgreSQLのJSONB列に保存する。
	TrackerBackendPostgres TrackerBackend = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 各コンポーネントにはこの値を明示的に渡す。
type Config struct {
	// Logging
	LogPath  string
	LogLevel string

	// Roster
	RosterPath   string
	BuildTracker bool

	// Tracker
	TrackerBackend TrackerBackend
	TrackerPath    string
	TrackerName    string
	DatabaseURL    string

	// Directory
	DirectoryCommand  string
	DirectoryURL      string
	DirectoryTimeout  time.Duration
	ResolveRetryDelay time.Duration

	// Downstream
	DownstreamURL       string
	DownstreamAPIKey    string
	DownstreamTimeout   time.Duration
	DownstreamRateLimit float64

	// Batch
	MaxRecords     int
	RecordInterval time.Duration

	// Metrics
	MetricsAddr string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.LogPath = getEnvString("LOG_PATH", "")
	cfg.LogLevel = strings.ToUpper(getEnvString("LOG_LEVEL", "INFO"))
	cfg.RosterPath = os.Getenv("ROSTER_PATH")
	cfg.BuildTracker = getEnvBool("BUILD_TRACKER", false)
	cfg.TrackerBackend = TrackerBackend(strings.ToLower(getEnvString("TRACKER_BACKEND", string(TrackerBackendFile))))
	cfg.TrackerPath = os.Getenv("TRACKER_PATH")
	cfg.TrackerName = getEnvString("TRACKER_NAME", "default")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DirectoryCommand = os.Getenv("DIRECTORY_COMMAND")
	cfg.DirectoryURL = os.Getenv("DIRECTORY_URL")
	cfg.DownstreamURL = os.Getenv("DOWNSTREAM_URL")
	cfg.DownstreamAPIKey = os.Getenv("DOWNSTREAM_API_KEY")

	// Required fields
	var missing []string

	switch cfg.TrackerBackend {
	case TrackerBackendFile:
		if cfg.TrackerPath == "" {
			missing = append(missing, "TRACKER_PATH")
		}
	case TrackerBackendPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported TRACKER_BACKEND: %q", cfg.TrackerBackend)
	}

	if cfg.DirectoryCommand == "" && cfg.DirectoryURL == "" {
		missing = append(missing, "DIRECTORY_COMMAND or DIRECTORY_URL")
	}
	if cfg.DownstreamURL == "" {
		missing = append(missing, "DOWNSTREAM_URL")
	}
	if cfg.DownstreamAPIKey == "" {
		missing = append(missing, "DOWNSTREAM_API_KEY")
	}
	if cfg.BuildTracker && cfg.RosterPath == "" {
		missing = append(missing, "ROSTER_PATH")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DirectoryTimeout = getEnvDuration("DIRECTORY_TIMEOUT", 30*time.Second)
	cfg.ResolveRetryDelay = getEnvDuration("RESOLVE_RETRY_DELAY", 2*time.Second)
	cfg.DownstreamTimeout = getEnvDuration("DOWNSTREAM_TIMEOUT", 10*time.Second)
	cfg.DownstreamRateLimit = getEnvFloat("DOWNSTREAM_RATE_LIMIT", 0)
	cfg.MaxRecords = getEnvInt("MAX_RECORDS", 0)
	cfg.RecordInterval = getEnvDuration("RECORD_INTERVAL", 1*time.Second)
	cfg.MetricsAddr = getEnvString("METRICS_ADDR", "")

	return cfg, nil
}

// LoadForReport はreportコマンド用にトラッカー関連の設定のみを読み込む。
// レポートはトラッカーを読むだけなので、ディレクトリやダウンストリームの設定は要求しない。
func LoadForReport() (*Config, error) {
	cfg := &Config{
		LogPath:        getEnvString("LOG_PATH", ""),
		LogLevel:       strings.ToUpper(getEnvString("LOG_LEVEL", "INFO")),
		TrackerBackend: TrackerBackend(strings.ToLower(getEnvString("TRACKER_BACKEND", string(TrackerBackendFile)))),
		TrackerPath:    os.Getenv("TRACKER_PATH"),
		TrackerName:    getEnvString("TRACKER_NAME", "default"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
	}

	switch cfg.TrackerBackend {
	case TrackerBackendFile:
		if cfg.TrackerPath == "" {
			return nil, fmt.Errorf("required environment variables are not set: %v", []string{"TRACKER_PATH"})
		}
	case TrackerBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
		}
	default:
		return nil, fmt.Errorf("unsupported TRACKER_BACKEND: %q", cfg.TrackerBackend)
	}

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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
