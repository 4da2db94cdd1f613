// Package model はドメインモデルを定義する。
package model

import "time"

// Entry はサーバーから取得した記事のクライアント側表現を表す。
// IDはサーバーが採番する単調増加の識別子で、(Datetime, ID)の降順が表示順となる。
// Unread/Starred以外のフィールドは取得後イミュータブルとして扱う。
type Entry struct {
	ID          int64
	Datetime    time.Time
	Title       string
	Content     string // サーバー側でサニタイズ済みHTML
	Teaser      string // Contentから抽出したプレーンテキストの抜粋
	Link        string
	Author      string
	Source      int64
	SourceTitle string
	Tags        []string
	Unread      bool
	Starred     bool
}

// FilterType は記事一覧のフィルタ種別を表す。
type FilterType string

const (
	// FilterTypeNewest は全記事を新しい順に表示するフィルタ。
	FilterTypeNewest FilterType = "newest"
	// FilterTypeUnread は未読記事のみを表示するフィルタ。
	FilterTypeUnread FilterType = "unread"
	// FilterTypeStarred はスター付き記事のみを表示するフィルタ。
	FilterTypeStarred FilterType = "starred"
)

// ValidFilterTypes は有効なフィルタ値のセット。
var ValidFilterTypes = map[FilterType]bool{
	FilterTypeNewest:  true,
	FilterTypeUnread:  true,
	FilterTypeStarred: true,
}

// Cursor はカーソルベースページネーションの位置を表す。
// (FromDatetime, FromID)は次ページの排他的下限を示し、
// ゼロ値はストリーム先頭からの取得を意味する。
type Cursor struct {
	FromDatetime time.Time
	FromID       int64
}

// IsZero はカーソルが未設定（ストリーム先頭）かどうかを返す。
func (c Cursor) IsZero() bool {
	return c.FromDatetime.IsZero() && c.FromID == 0
}

// FetchParams は記事一覧取得のパラメータを表す。
// GET /items とオフラインストアの両方で同じ意味を持つ。
type FetchParams struct {
	Type     FilterType
	Tag      string  // タグフィルタ（空なら無効）
	Source   int64   // ソースフィルタ（0なら無効）
	Search   string  // 全文検索または /regex/ 検索（空なら無効）
	ExtraIDs []int64 // カーソル位置に関わらず強制的に含める記事ID
	Cursor   Cursor
	Items    int // 1ページあたりの件数
}

// RequiresOnline はオフラインストアが対応していないフィルタ
// （タグ・ソース・検索）を含むかどうかを返す。
func (p FetchParams) RequiresOnline() bool {
	return p.Tag != "" || p.Source != 0 || p.Search != ""
}

// EntryPage は記事一覧取得の結果ページを表す。
type EntryPage struct {
	Entries []Entry
	HasMore bool
}

// Tag はタグとその未読数を表す。未読数はEntryの状態と結果整合する。
type Tag struct {
	Tag    string `json:"tag"`
	Color  string `json:"color"`
	Unread int    `json:"unread"`
}

// Source は購読ソースとその未読数を表す。
type Source struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Unread int    `json:"unread"`
}

// Stats は全体の未読・スター数の統計を表す。
type Stats struct {
	Total   int `json:"total"`
	Unread  int `json:"unread"`
	Starred int `json:"starred"`
}
