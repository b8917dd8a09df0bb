package docstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/nao1215/pendingpush/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
// pathには ":memory:" も指定できる。その場合は接続を1本に固定する。
func Open(ctx context.Context, path string, logger log.Logger) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate はドキュメントストアのスキーマを適用する。
func Migrate(ctx context.Context, db *sql.DB, logger log.Logger) error {
	if _, err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
