package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open はオフラインストア用のSQLiteデータベース接続を開く。
// dbPathはデータベースファイルのパスを指定する（例: "/var/lib/feedsync/offline.db"）。
// 外部キー制約とWALモードを有効にする。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLiteは単一ライターのため接続数を絞る
	db.SetMaxOpenConns(1)

	return db, nil
}
