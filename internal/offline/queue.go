package offline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/feedsync/internal/model"
)

// EntriesMark は指定記事の未読フラグをローカルに適用し、
// 実際に値が変化した記事のみ未送信キューへ積む。
// すでに同じ値を持つ記事は変更もキュー追加も行わない（冪等性）。
// 実際に変化した記事のIDを返す。
func (s *Store) EntriesMark(ctx context.Context, ids []int64, unread bool) ([]int64, error) {
	return s.applyStatusLocally(ctx, ids, model.StatusNameUnread, unread)
}

// EntriesStar は指定記事のスターフラグをローカルに適用し、
// 実際に値が変化した記事のみ未送信キューへ積む。
func (s *Store) EntriesStar(ctx context.Context, ids []int64, starred bool) ([]int64, error) {
	return s.applyStatusLocally(ctx, ids, model.StatusNameStarred, starred)
}

// applyStatusLocally はフラグ更新とキュー追加を同一トランザクションで行う。
func (s *Store) applyStatusLocally(ctx context.Context, ids []int64, name model.StatusName, value bool) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	column := "unread"
	if name == model.StatusNameStarred {
		column = "starred"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.storageError("queue.begin", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, value)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, value)

	// 値が実際に変化する行だけを更新し、変化した行のIDを受け取る
	query := fmt.Sprintf(
		"UPDATE entries SET %s = ? WHERE id IN (%s) AND %s != ? RETURNING id",
		column, placeholders, column)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.storageError("queue.update", err)
	}

	var changed []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, s.storageError("queue.scan", err)
		}
		changed = append(changed, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, s.storageError("queue.rows", err)
	}
	rows.Close()

	for _, id := range changed {
		if err := enqueueStatusTx(ctx, tx, s.newPendingStatus(id, name, value)); err != nil {
			return nil, s.storageError("queue.enqueue", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, s.storageError("queue.commit", err)
	}
	return changed, nil
}

// newPendingStatus は未送信ステータス変更レコードを生成する。
func (s *Store) newPendingStatus(entryID int64, name model.StatusName, value bool) model.PendingStatusChange {
	return model.PendingStatusChange{
		ID:       uuid.New().String(),
		EntryID:  entryID,
		Name:     name,
		Value:    value,
		QueuedAt: s.now(),
	}
}

// EnqueueStatuses は未送信ステータス変更をキューへ積む。
// 同一(entryId, status)キーの先行レコードは後続の値で置き換えられ、
// キューには常にキーごとに1件のみ存在する。
func (s *Store) EnqueueStatuses(ctx context.Context, statuses []model.PendingStatusChange) error {
	if len(statuses) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageError("enqueue.begin", err)
	}
	defer tx.Rollback()

	for _, status := range statuses {
		if !model.ValidStatusNames[status.Name] {
			return model.NewInvalidFilterError(string(status.Name))
		}
		if status.ID == "" {
			status.ID = uuid.New().String()
		}
		if status.QueuedAt.IsZero() {
			status.QueuedAt = s.now()
		}
		if err := enqueueStatusTx(ctx, tx, status); err != nil {
			return s.storageError("enqueue.upsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.storageError("enqueue.commit", err)
	}
	return nil
}

// enqueueStatusTx は(entry_id, name)キーで圧縮しながらキューへUPSERTする。
// 置き換え時はqueued_atも新しい値で更新し、FIFO順序はキー単位で維持される。
func enqueueStatusTx(ctx context.Context, tx txExecer, status model.PendingStatusChange) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO status_queue (id, entry_id, name, value, queued_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (entry_id, name) DO UPDATE SET
		   id = excluded.id, value = excluded.value, queued_at = excluded.queued_at`,
		status.ID, status.EntryID, string(status.Name), status.Value, status.QueuedAt.UnixNano())
	return err
}

// txExecer はトランザクション内でのExec操作のインターフェース。
type txExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// timeFromNano はUnixNano値をUTCのtime.Timeへ変換する。
func timeFromNano(nano int64) time.Time {
	return time.Unix(0, nano).UTC()
}

// PendingStatuses は未送信ステータス変更をキュー投入順で返す。
func (s *Store) PendingStatuses(ctx context.Context) ([]model.PendingStatusChange, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, entry_id, name, value, queued_at FROM status_queue ORDER BY queued_at, entry_id")
	if err != nil {
		return nil, s.storageError("pending.select", err)
	}
	defer rows.Close()

	var statuses []model.PendingStatusChange
	for rows.Next() {
		var status model.PendingStatusChange
		var name string
		var nano int64
		if err := rows.Scan(&status.ID, &status.EntryID, &name, &status.Value, &nano); err != nil {
			return nil, s.storageError("pending.scan", err)
		}
		status.Name = model.StatusName(name)
		status.QueuedAt = timeFromNano(nano)
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageError("pending.rows", err)
	}
	return statuses, nil
}

// RemoveStatuses はサーバーが受理したステータス変更をキューから削除する。
// 部分失敗時は失敗分のみを残すため、受理されたIDだけを渡すこと。
func (s *Store) RemoveStatuses(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM status_queue WHERE id IN (%s)", placeholders), args...)
	if err != nil {
		return s.storageError("pending.delete", err)
	}
	return nil
}

// NeedsSync は未送信キューが空でないかどうかを返す。
// SyncDispatcherがsync()の実行要否を判断するために使用する。
func (s *Store) NeedsSync(ctx context.Context) (bool, error) {
	depth, err := s.QueueDepth(ctx)
	if err != nil {
		return false, err
	}
	return depth > 0, nil
}

// QueueDepth は未送信キューの件数を返す。メトリクス用。
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM status_queue").Scan(&count)
	if err != nil {
		return 0, s.storageError("pending.count", err)
	}
	return count, nil
}
