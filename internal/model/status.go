package model

import "time"

// StatusName は記事ステータスの種別を表す。
type StatusName string

const (
	// StatusNameUnread は未読フラグのステータス。
	StatusNameUnread StatusName = "unread"
	// StatusNameStarred はスターフラグのステータス。
	StatusNameStarred StatusName = "starred"
)

// ValidStatusNames は有効なステータス名のセット。
var ValidStatusNames = map[StatusName]bool{
	StatusNameUnread:  true,
	StatusNameStarred: true,
}

// PendingStatusChange はオフライン中に行われた未確定のステータス変更を表す。
// (EntryID, Name)の組につき常に1件のみ存在し、後から積まれた変更が
// 先行する未送信の変更を置き換える（キュー圧縮の不変条件）。
type PendingStatusChange struct {
	ID       string // クライアント採番のUUID
	EntryID  int64
	Name     StatusName
	Value    bool
	QueuedAt time.Time
}

// EntryStatus はサーバーが報告する記事ステータスのスナップショットを表す。
// 同期のプル段階でローカルの状態を上書きするために使用する。
type EntryStatus struct {
	ID      int64
	Unread  bool
	Starred bool
}
