package migration

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestRun はマイグレーションの適用順序と冪等性を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_column.up.sql":     {Data: []byte("ALTER TABLE items ADD COLUMN label TEXT NOT NULL DEFAULT '';")},
		"migrations/000001_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
		"migrations/000001_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":                    {Data: []byte("ignored")},
	}

	t.Run("バージョン順に適用されること", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		if err := Run(context.Background(), db, fsys, "migrations"); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}

		if _, err := db.Exec("INSERT INTO items (id, label) VALUES ('a', 'x')"); err != nil {
			t.Fatalf("マイグレーション後のテーブルへの挿入に失敗: %v", err)
		}

		var versions []int
		if err := db.Select(&versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
			t.Fatalf("バージョンの取得に失敗: %v", err)
		}
		if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
			t.Errorf("versions = %v, want [1 2]", versions)
		}
	})

	t.Run("2回実行しても適用済みはスキップされること", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		for i := range 2 {
			if err := Run(context.Background(), db, fsys, "migrations"); err != nil {
				t.Fatalf("%d回目のRun()でエラーが発生: %v", i+1, err)
			}
		}

		var count int
		if err := db.Get(&count, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
			t.Fatalf("件数の取得に失敗: %v", err)
		}
		if count != 2 {
			t.Errorf("count = %d, want 2", count)
		}
	})

	t.Run("SQLが不正な場合はロールバックされること", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte("CREATE TABLE;")},
		}
		if err := Run(context.Background(), db, broken, "m"); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}

		var count int
		if err := db.Get(&count, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
			t.Fatalf("件数の取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("count = %d, want 0", count)
		}
	})

	t.Run("ディレクトリが存在しない場合エラーを返すこと", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		if err := Run(context.Background(), db, fstest.MapFS{}, "missing"); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
	})
}
