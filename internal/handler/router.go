package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 記事ストリーム
	Controller   StreamControllerInterface
	ItemsPerPage int

	// 同期エンジン
	Dispatcher DispatcherInterface

	// ナビゲーション検証（通常はDispatcherと同一実体）
	Validator NavValidator

	// GET /metrics で公開するPrometheusハンドラー
	MetricsHandler http.Handler
}

// NewRouter は制御API全エンドポイントのルーティングとミドルウェアチェーンを
// 構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
//
// /healthz と /metrics はロギングの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	entryHandler := NewEntryHandler(deps.Controller, deps.Validator, deps.ItemsPerPage)
	syncHandler := NewSyncHandler(deps.Dispatcher)

	r.Use(middleware.NewRecoveryMiddleware())

	// --- 監視用ルート ---

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 制御API ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))

		// 記事ストリーム
		r.Route("/api/entries", func(r chi.Router) {
			r.Get("/", entryHandler.List)
			r.Post("/more", entryHandler.More)
			r.Post("/reload", entryHandler.Reload)
			r.Post("/mark-visible-read", entryHandler.MarkVisibleRead)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/mark", entryHandler.Mark)
				r.Post("/star", entryHandler.Star)
			})
		})

		// 同期とモード切り替え
		r.Get("/api/state", syncHandler.State)
		r.Post("/api/sync", syncHandler.Sync)
		r.Post("/api/online", syncHandler.SetOnline)
		r.Post("/api/offline", syncHandler.SetOffline)
		r.Post("/api/offline/enable", syncHandler.EnableOffline)
		r.Post("/api/clear", syncHandler.Clear)
	})

	return r
}
