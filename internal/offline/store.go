// Package offline はクライアントローカルのオフラインストアを提供する。
// サーバースナップショットの作業コピーと未送信ステータス変更キューを
// SQLiteに永続化する。ネットワークアクセスは一切行わない。
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// metaKeyLastUpdate はサーバースナップショット確定時刻のmetaキー。
const metaKeyLastUpdate = "last_update"

// Store はSQLiteを使用したオフラインストア。
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore はStoreの新しいインスタンスを生成する。
// nowClockがnilの場合はtime.Nowを使用する。
func NewStore(db *sql.DB, logger *slog.Logger, nowClock func() time.Time) *Store {
	if nowClock == nil {
		nowClock = time.Now
	}
	return &Store{
		db:     db,
		logger: logger,
		now:    nowClock,
	}
}

// storageError はSQL操作の失敗をSTORAGE_CORRUPTIONエラーに変換する。
// 詳細はログのみに記録し、呼び出し元には統一エラーを返す。
func (s *Store) storageError(op string, err error) error {
	s.logger.Error("オフラインストアの操作に失敗しました",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return model.NewStorageCorruptionError(op)
}

// GetEntries はローカルスナップショットから記事一覧のページを返す。
// カーソル意味論はオンラインソースと同一で、(datetime, id)降順の
// 排他的下限としてカーソルを解釈する。
// タグ・ソース・検索フィルタはローカルでは対応せずFILTER_NOT_SUPPORTEDを返す。
// 呼び出し元はその場合オンラインソースへフォールバックしなければならない。
func (s *Store) GetEntries(ctx context.Context, params model.FetchParams) (*model.EntryPage, error) {
	if params.RequiresOnline() {
		return nil, model.NewFilterNotSupportedError(describeFilter(params))
	}
	if !model.ValidFilterTypes[params.Type] {
		return nil, model.NewInvalidFilterError(string(params.Type))
	}

	var conds []string
	var args []any

	switch params.Type {
	case model.FilterTypeUnread:
		conds = append(conds, "unread = 1")
	case model.FilterTypeStarred:
		conds = append(conds, "starred = 1")
	}

	if !params.Cursor.IsZero() {
		// (datetime, id)降順ストリームの排他的下限
		conds = append(conds, "(datetime < ? OR (datetime = ? AND id < ?))")
		nano := params.Cursor.FromDatetime.UnixNano()
		args = append(args, nano, nano, params.Cursor.FromID)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	// ExtraIDsはカーソル位置に関わらず強制的に含める
	if len(params.ExtraIDs) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(params.ExtraIDs)), ",")
		if where == "" {
			where = fmt.Sprintf("WHERE id IN (%s)", placeholders)
		} else {
			where = fmt.Sprintf("%s OR id IN (%s)", where, placeholders)
		}
		for _, id := range params.ExtraIDs {
			args = append(args, id)
		}
	}

	items := params.Items
	if items <= 0 {
		items = 50
	}
	// limit+1件を取得してHasMoreを判定する
	args = append(args, items+1)

	query := fmt.Sprintf(
		`SELECT id, datetime, title, content, teaser, link, author, source, source_title, tags, unread, starred
		 FROM entries %s
		 ORDER BY datetime DESC, id DESC
		 LIMIT ?`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.storageError("entries.select", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, s.storageError("entries.scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageError("entries.rows", err)
	}

	hasMore := len(entries) > items
	if hasMore {
		entries = entries[:items] // 余分な1件を除外
	}

	return &model.EntryPage{Entries: entries, HasMore: hasMore}, nil
}

// scanEntry は1行分の記事をスキャンする。
func scanEntry(rows *sql.Rows) (model.Entry, error) {
	var entry model.Entry
	var nano int64
	var tagsJSON string

	err := rows.Scan(
		&entry.ID, &nano, &entry.Title, &entry.Content, &entry.Teaser,
		&entry.Link, &entry.Author, &entry.Source, &entry.SourceTitle,
		&tagsJSON, &entry.Unread, &entry.Starred,
	)
	if err != nil {
		return model.Entry{}, err
	}

	entry.Datetime = time.Unix(0, nano).UTC()
	if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
		return model.Entry{}, fmt.Errorf("tags列のJSONパースに失敗しました: %w", err)
	}

	return entry, nil
}

// describeFilter はFILTER_NOT_SUPPORTEDエラー用のフィルタ説明文字列を返す。
func describeFilter(params model.FetchParams) string {
	var parts []string
	if params.Tag != "" {
		parts = append(parts, "tag="+params.Tag)
	}
	if params.Source != 0 {
		parts = append(parts, fmt.Sprintf("source=%d", params.Source))
	}
	if params.Search != "" {
		parts = append(parts, "search="+params.Search)
	}
	return strings.Join(parts, " ")
}

// ReplaceSnapshot は記事・タグ・ソースのスナップショットを丸ごと置き換える。
// 完全同期の成功時に呼び出され、同一トランザクションで原子的に入れ替える。
func (s *Store) ReplaceSnapshot(ctx context.Context, entries []model.Entry, tags []model.Tag, sources []model.Source) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageError("snapshot.begin", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"entries", "tags", "sources"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return s.storageError("snapshot.clear", err)
		}
	}

	for _, entry := range entries {
		if err := insertEntry(ctx, tx, entry); err != nil {
			return s.storageError("snapshot.entries", err)
		}
	}
	for _, tag := range tags {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO tags (tag, color, unread) VALUES (?, ?, ?)",
			tag.Tag, tag.Color, tag.Unread)
		if err != nil {
			return s.storageError("snapshot.tags", err)
		}
	}
	for _, source := range sources {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO sources (id, title, unread) VALUES (?, ?, ?)",
			source.ID, source.Title, source.Unread)
		if err != nil {
			return s.storageError("snapshot.sources", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.storageError("snapshot.commit", err)
	}
	return nil
}

// insertEntry は記事1件をINSERTする。既存IDは上書きする。
func insertEntry(ctx context.Context, tx *sql.Tx, entry model.Entry) error {
	tagsJSON, err := json.Marshal(entry.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, datetime, title, content, teaser, link, author, source, source_title, tags, unread, starred)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   datetime = excluded.datetime, title = excluded.title,
		   content = excluded.content, teaser = excluded.teaser,
		   link = excluded.link, author = excluded.author,
		   source = excluded.source, source_title = excluded.source_title,
		   tags = excluded.tags, unread = excluded.unread, starred = excluded.starred`,
		entry.ID, entry.Datetime.UnixNano(), entry.Title, entry.Content, entry.Teaser,
		entry.Link, entry.Author, entry.Source, entry.SourceTitle,
		string(tagsJSON), entry.Unread, entry.Starred,
	)
	return err
}

// SaveEntries は差分同期で受け取った記事をスナップショットへマージする。
// 既存IDの記事は上書きされる。完全同期の置き換えにはReplaceSnapshotを使用する。
func (s *Store) SaveEntries(ctx context.Context, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageError("entries.begin", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := insertEntry(ctx, tx, entry); err != nil {
			return s.storageError("entries.upsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.storageError("entries.commit", err)
	}
	return nil
}

// ReplaceTagsSources はタグ・ソースの一覧をサーバーの最新値で置き換える。
// 未読数は導出値のためスナップショット全体と同時に更新する。
func (s *Store) ReplaceTagsSources(ctx context.Context, tags []model.Tag, sources []model.Source) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageError("navsync.begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tags"); err != nil {
		return s.storageError("navsync.clear", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sources"); err != nil {
		return s.storageError("navsync.clear", err)
	}
	for _, tag := range tags {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO tags (tag, color, unread) VALUES (?, ?, ?)",
			tag.Tag, tag.Color, tag.Unread)
		if err != nil {
			return s.storageError("navsync.tags", err)
		}
	}
	for _, source := range sources {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO sources (id, title, unread) VALUES (?, ?, ?)",
			source.ID, source.Title, source.Unread)
		if err != nil {
			return s.storageError("navsync.sources", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.storageError("navsync.commit", err)
	}
	return nil
}

// ApplyStatuses はサーバーが報告したステータスでローカルの記事フラグを上書きする。
// 同期のプル段階で使用する。存在しない記事のステータスは無視する。
func (s *Store) ApplyStatuses(ctx context.Context, statuses []model.EntryStatus) error {
	if len(statuses) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageError("statuses.begin", err)
	}
	defer tx.Rollback()

	for _, status := range statuses {
		_, err := tx.ExecContext(ctx,
			"UPDATE entries SET unread = ?, starred = ? WHERE id = ?",
			status.Unread, status.Starred, status.ID)
		if err != nil {
			return s.storageError("statuses.update", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.storageError("statuses.commit", err)
	}
	return nil
}

// Tags はスナップショット内のタグ一覧を返す。
func (s *Store) Tags(ctx context.Context) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tag, color, unread FROM tags ORDER BY tag")
	if err != nil {
		return nil, s.storageError("tags.select", err)
	}
	defer rows.Close()

	var tags []model.Tag
	for rows.Next() {
		var tag model.Tag
		if err := rows.Scan(&tag.Tag, &tag.Color, &tag.Unread); err != nil {
			return nil, s.storageError("tags.scan", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageError("tags.rows", err)
	}
	return tags, nil
}

// Sources はスナップショット内のソース一覧を返す。
func (s *Store) Sources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, unread FROM sources ORDER BY title")
	if err != nil {
		return nil, s.storageError("sources.select", err)
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		var source model.Source
		if err := rows.Scan(&source.ID, &source.Title, &source.Unread); err != nil {
			return nil, s.storageError("sources.scan", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageError("sources.rows", err)
	}
	return sources, nil
}

// LastUpdate はサーバースナップショットの確定時刻を返す。
// 未記録の場合はゼロ値を返す。
func (s *Store) LastUpdate(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT v FROM meta WHERE k = ?", metaKeyLastUpdate).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, s.storageError("meta.select", err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, s.storageError("meta.parse", err)
	}
	return t, nil
}

// SetLastUpdate はサーバースナップショットの確定時刻を記録する。
// 完全同期が成功した場合にのみ呼び出すこと。部分的な取得では進めてはならない。
func (s *Store) SetLastUpdate(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v",
		metaKeyLastUpdate, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return s.storageError("meta.upsert", err)
	}
	return nil
}

// GetPreference は永続化されたクライアント設定値を返す。未設定の場合は空文字を返す。
func (s *Store) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT v FROM meta WHERE k = ?", "pref_"+key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", s.storageError("pref.select", err)
	}
	return value, nil
}

// SetPreference はクライアント設定値を永続化する。
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v",
		"pref_"+key, value)
	if err != nil {
		return s.storageError("pref.upsert", err)
	}
	return nil
}

// CleanupOldEntries は保持期間（offline days）を超えた既読・非スター記事を
// スナップショットから削除する。daysが0以下の場合は何もしない。
func (s *Store) CleanupOldEntries(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := s.now().AddDate(0, 0, -days).UnixNano()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM entries WHERE datetime < ? AND unread = 0 AND starred = 0", cutoff)
	if err != nil {
		return s.storageError("entries.cleanup", err)
	}
	return nil
}

// Delete はローカルスナップショットとキューを全て消去する。
func (s *Store) Delete(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageError("delete.begin", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"entries", "tags", "sources", "status_queue", "meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return s.storageError("delete.clear", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.storageError("delete.commit", err)
	}
	return nil
}
