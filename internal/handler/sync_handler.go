package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/syncer"
)

// DispatcherInterface は同期ディスパッチャー操作のインターフェース。
type DispatcherInterface interface {
	Sync(ctx context.Context, force bool) error
	TryOnline(ctx context.Context) error
	SetOnline(ctx context.Context) error
	SetOffline(ctx context.Context) error
	EnableOffline(ctx context.Context, enable bool) error
	Clear(ctx context.Context) error
	State(ctx context.Context) syncer.SyncState
	Tags() []model.Tag
	Sources() []model.Source
	Stats() model.Stats
}

// SyncHandler は同期とモード切り替えのHTTPハンドラー。
type SyncHandler struct {
	dispatcher DispatcherInterface
}

// NewSyncHandler はSyncHandlerの新しいインスタンスを生成する。
func NewSyncHandler(dispatcher DispatcherInterface) *SyncHandler {
	return &SyncHandler{dispatcher: dispatcher}
}

// stateJSON は制御APIのエンジン状態表現。
type stateJSON struct {
	Online          bool       `json:"online"`
	Broken          bool       `json:"broken"`
	EnableOffline   bool       `json:"enableOffline"`
	LoggedIn        bool       `json:"loggedIn"`
	LastUpdate      *time.Time `json:"lastUpdate,omitempty"`
	LastSyncAttempt *time.Time `json:"lastSyncAttempt,omitempty"`
	QueueDepth      int        `json:"queueDepth"`
}

// navJSON は制御APIのナビゲーション表現。
type navJSON struct {
	Tags    []model.Tag    `json:"tags"`
	Sources []model.Source `json:"sources"`
	Stats   model.Stats    `json:"stats"`
}

// State は現在のエンジン状態とナビゲーションを返す。
// GET /api/state
func (h *SyncHandler) State(w http.ResponseWriter, r *http.Request) {
	state := h.dispatcher.State(r.Context())

	response := struct {
		State stateJSON `json:"state"`
		Nav   navJSON   `json:"nav"`
	}{
		State: stateJSON{
			Online:        state.Online,
			Broken:        state.Broken,
			EnableOffline: state.EnableOffline,
			LoggedIn:      state.LoggedIn,
			QueueDepth:    state.QueueDepth,
		},
		Nav: navJSON{
			Tags:    h.dispatcher.Tags(),
			Sources: h.dispatcher.Sources(),
			Stats:   h.dispatcher.Stats(),
		},
	}
	if !state.LastUpdate.IsZero() {
		t := state.LastUpdate.UTC()
		response.State.LastUpdate = &t
	}
	if !state.LastSyncAttempt.IsZero() {
		t := state.LastSyncAttempt.UTC()
		response.State.LastSyncAttempt = &t
	}
	if response.Nav.Tags == nil {
		response.Nav.Tags = []model.Tag{}
	}
	if response.Nav.Sources == nil {
		response.Nav.Sources = []model.Source{}
	}

	writeJSON(w, http.StatusOK, response)
}

// Sync は同期ラウンドを起動する。ボディの force=true で鮮度判定を飛ばす。
// POST /api/sync
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Force bool `json:"force"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, model.NewInvalidFilterError("リクエストボディが不正です"))
			return
		}
	}

	if err := h.dispatcher.Sync(r.Context(), body.Force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// SetOnline はオンラインモードへ遷移させる。
// POST /api/online
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.SetOnline(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "online": true})
}

// SetOffline はオフラインモードへ遷移させる。
// ストレージなし・破損時は OFFLINE_STORAGE_UNAVAILABLE を返す。
// POST /api/offline
func (h *SyncHandler) SetOffline(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.SetOffline(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "online": false})
}

// EnableOffline はオフライン機能の有効・無効を切り替えて永続化する。
// POST /api/offline/enable  ボディ: {"enable": bool}
func (h *SyncHandler) EnableOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enable bool `json:"enable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, model.NewInvalidFilterError("リクエストボディが不正です"))
		return
	}

	if err := h.dispatcher.EnableOffline(r.Context(), body.Enable); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Clear はオフラインスナップショットと保留キューを全削除する。
// POST /api/clear
func (h *SyncHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
