// Package handler はローカルUI向け制御APIのHTTPハンドラーを提供する。
// エンジン（SyncDispatcher / EntryListController）の操作を薄いJSON APIとして
// 公開するのみで、同期やルーティングの判断は一切行わない。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsync/internal/middleware"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/stream"
)

// StreamControllerInterface は記事ストリーム操作のインターフェース。
type StreamControllerInterface interface {
	Load(ctx context.Context, params model.FetchParams) error
	LoadMore(ctx context.Context) error
	Reload(ctx context.Context) error
	MarkVisibleRead(ctx context.Context) error
	MarkEntry(ctx context.Context, id int64, unread bool) error
	StarEntry(ctx context.Context, id int64, starred bool) error
	Snapshot() stream.Snapshot
}

// EntryHandler は記事ストリーム関連のHTTPハンドラー。
type EntryHandler struct {
	controller   StreamControllerInterface
	validator    NavValidator
	itemsPerPage int
}

// NavValidator はタグ・ソースの存在確認インターフェース。
type NavValidator interface {
	IsValidTag(name string) bool
	IsValidSource(id int64) bool
}

// NewEntryHandler はEntryHandlerの新しいインスタンスを生成する。
func NewEntryHandler(controller StreamControllerInterface, validator NavValidator, itemsPerPage int) *EntryHandler {
	return &EntryHandler{
		controller:   controller,
		validator:    validator,
		itemsPerPage: itemsPerPage,
	}
}

// entryJSON は制御APIの記事表現。
type entryJSON struct {
	ID          int64    `json:"id"`
	Datetime    string   `json:"datetime"`
	Title       string   `json:"title"`
	Teaser      string   `json:"teaser"`
	Content     string   `json:"content"`
	Link        string   `json:"link"`
	Author      string   `json:"author"`
	Source      int64    `json:"source"`
	SourceTitle string   `json:"sourceTitle"`
	Tags        []string `json:"tags"`
	Unread      bool     `json:"unread"`
	Starred     bool     `json:"starred"`
}

// streamJSON は制御APIのストリーム状態表現。
type streamJSON struct {
	Entries          []entryJSON `json:"entries"`
	HasMore          bool        `json:"hasMore"`
	LoadingState     string      `json:"loadingState"`
	MoreLoadingState string      `json:"moreLoadingState"`
	Warnings         []string    `json:"warnings,omitempty"`
}

// toStreamJSON はスナップショットをAPI表現へ変換する。
func toStreamJSON(snapshot stream.Snapshot) streamJSON {
	entries := make([]entryJSON, len(snapshot.Entries))
	for i, entry := range snapshot.Entries {
		tags := entry.Tags
		if tags == nil {
			tags = []string{}
		}
		entries[i] = entryJSON{
			ID:          entry.ID,
			Datetime:    entry.Datetime.UTC().Format(time.RFC3339),
			Title:       entry.Title,
			Teaser:      entry.Teaser,
			Content:     entry.Content,
			Link:        entry.Link,
			Author:      entry.Author,
			Source:      entry.Source,
			SourceTitle: entry.SourceTitle,
			Tags:        tags,
			Unread:      entry.Unread,
			Starred:     entry.Starred,
		}
	}
	return streamJSON{
		Entries:          entries,
		HasMore:          snapshot.HasMore,
		LoadingState:     string(snapshot.LoadingState),
		MoreLoadingState: string(snapshot.MoreLoadingState),
	}
}

// List はクエリパラメータのフィルタでストリームを読み込み、結果を返す。
// GET /api/entries?type=unread&tag=...&source=...&search=...
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	params, err := h.parseFetchParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.controller.Load(r.Context(), params); err != nil {
		writeError(w, err)
		return
	}

	response := toStreamJSON(h.controller.Snapshot())

	// 初回読み込み前の誤検知を避けるため、一覧が空の間は常に有効と判定される
	if params.Tag != "" && !h.validator.IsValidTag(params.Tag) {
		response.Warnings = append(response.Warnings, "不明なタグです: "+params.Tag)
	}
	if params.Source != 0 && !h.validator.IsValidSource(params.Source) {
		response.Warnings = append(response.Warnings, "不明なソースです: "+strconv.FormatInt(params.Source, 10))
	}

	writeJSON(w, http.StatusOK, response)
}

// More は次のページを末尾へ追加読み込みする。
// POST /api/entries/more
func (h *EntryHandler) More(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.LoadMore(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStreamJSON(h.controller.Snapshot()))
}

// Reload は現在のフィルタで読み込みをやり直す。FAILUREからのリトライ用。
// POST /api/entries/reload
func (h *EntryHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStreamJSON(h.controller.Snapshot()))
}

// MarkVisibleRead は表示中の未読記事を一括で既読にする。
// POST /api/entries/mark-visible-read
func (h *EntryHandler) MarkVisibleRead(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.MarkVisibleRead(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStreamJSON(h.controller.Snapshot()))
}

// Mark は単一記事の未読フラグを更新する。
// POST /api/entries/{id}/mark  ボディ: {"unread": bool}
func (h *EntryHandler) Mark(w http.ResponseWriter, r *http.Request) {
	id, err := parseEntryID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Unread bool `json:"unread"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, model.NewInvalidFilterError("リクエストボディが不正です"))
		return
	}

	if err := h.controller.MarkEntry(r.Context(), id, body.Unread); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Star は単一記事のスターフラグを更新する。
// POST /api/entries/{id}/star  ボディ: {"starred": bool}
func (h *EntryHandler) Star(w http.ResponseWriter, r *http.Request) {
	id, err := parseEntryID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Starred bool `json:"starred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, model.NewInvalidFilterError("リクエストボディが不正です"))
		return
	}

	if err := h.controller.StarEntry(r.Context(), id, body.Starred); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// parseFetchParams はクエリパラメータをFetchParamsへ変換する。
func (h *EntryHandler) parseFetchParams(r *http.Request) (model.FetchParams, error) {
	query := r.URL.Query()

	filterType := model.FilterType(query.Get("type"))
	if filterType == "" {
		filterType = model.FilterTypeNewest
	}
	if !model.ValidFilterTypes[filterType] {
		return model.FetchParams{}, model.NewInvalidFilterError(string(filterType))
	}

	params := model.FetchParams{
		Type:   filterType,
		Tag:    query.Get("tag"),
		Search: query.Get("search"),
		Items:  h.itemsPerPage,
	}

	if raw := query.Get("source"); raw != "" {
		source, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return model.FetchParams{}, model.NewInvalidFilterError("sourceは数値で指定してください")
		}
		params.Source = source
	}

	for _, raw := range query["extraIds[]"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return model.FetchParams{}, model.NewInvalidFilterError("extraIdsは数値で指定してください")
		}
		params.ExtraIDs = append(params.ExtraIDs, id)
	}

	return params, nil
}

// parseEntryID はURLパスから記事IDを取り出す。
func parseEntryID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewInvalidFilterError("記事IDが不正です: " + raw)
	}
	return id, nil
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// writeError はエラーを統一フォーマットで書き込む。
// APIError以外のエラーは詳細を隠して500を返す。
func writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}
	middleware.WriteInternalServerError(w)
}
