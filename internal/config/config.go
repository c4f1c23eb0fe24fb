// Package config は通知サービスの設定を環境変数から読み込む。
//
// カレントディレクトリの.envファイルがあれば読み込むが、
// プロセスの環境変数が常に優先される。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// DriverSQLite は組み込みSQLite（modernc.org/sqlite）を表す。
	DriverSQLite = "sqlite"
	// DriverPostgres はPostgreSQL（pgx）を表す。
	DriverPostgres = "pgx"
)

// Config は通知サービスの設定値。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8086"`
	// DBDriver はdatabase/sqlのドライバ名。
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	// DatabaseURL はデータベースの接続文字列。
	DatabaseURL string `env:"DATABASE_URL" envDefault:"/data/notification.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"`
	// JWTSecret はJWTの署名検証に使う共有鍵。
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	// RedisAddr はリアルタイム配信を中継するRedisのアドレス。空なら単一インスタンスで動作する。
	RedisAddr string `env:"REDIS_ADDR"`
	// RedisPassword はRedisのパスワード。
	RedisPassword string `env:"REDIS_PASSWORD"`
	// RealtimeChannel はイベントを流すRedisのチャンネル名。
	RealtimeChannel string `env:"REALTIME_CHANNEL" envDefault:"crm:realtime"`
	// CleanupSchedule は既読通知を削除するジョブのcron式。
	CleanupSchedule string `env:"CLEANUP_SCHEDULE" envDefault:"@daily"`
	// ReadRetention は既読通知を保持する期間。
	ReadRetention time.Duration `env:"READ_RETENTION" envDefault:"720h"`
}

// Load は.envファイルとプロセスの環境変数から設定を読み込む。
// filesを省略した場合はカレントディレクトリの.envを読む。ファイルがなくてもエラーにしない。
func Load(files ...string) (Config, error) {
	environ := make(map[string]string)

	dotenv, err := godotenv.Read(files...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf(".envファイルの読み込みに失敗: %w", err)
	}
	for k, v := range dotenv {
		environ[k] = v
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}

	return parse(environ)
}

// parse は与えられた環境変数の集合から設定を構築する。
func parse(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("DB_DRIVERが不正です: %q", c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URLが必要です")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRETが必要です")
	}
	if c.ReadRetention <= 0 {
		return fmt.Errorf("READ_RETENTIONは正の値が必要です: %s", c.ReadRetention)
	}
	return nil
}
