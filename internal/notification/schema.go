package notification

import (
	"context"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/crmnotify/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// OpenDB はデータベースに接続し、未適用のマイグレーションを適用する。
// driverには "sqlite" または "pgx" を指定する。
func OpenDB(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if driver == "sqlite" {
		// SQLiteは書き込みが直列化されるため接続を1本に絞る
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// initSchema はマイグレーションを適用する。
func initSchema(ctx context.Context, db *sqlx.DB) error {
	if err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
