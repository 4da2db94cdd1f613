// Package app はアプリケーションの起動・依存関係のワイヤリング・
// サブコマンド分岐を担当する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/feedsync/internal/config"
	"github.com/hitoshi/feedsync/internal/database"
	"github.com/hitoshi/feedsync/internal/handler"
	"github.com/hitoshi/feedsync/internal/logger"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/offline"
	"github.com/hitoshi/feedsync/internal/online"
	"github.com/hitoshi/feedsync/internal/stream"
	"github.com/hitoshi/feedsync/internal/syncer"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		addr := os.Getenv("LISTEN_ADDR")
		if addr == "" {
			addr = "127.0.0.1:8453"
		}
		return runHealthcheck(addr)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("server_url", cfg.ServerURL),
		slog.String("listen_addr", cfg.ListenAddr),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandSync:
		return runSync(cfg)
	case CommandClear:
		return runClear(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// engine は1セッション分のワイヤリング済み依存関係をまとめる。
type engine struct {
	db         *sql.DB
	client     *online.Client
	dispatcher *syncer.Dispatcher
	collector  *metrics.Collector
	registry   *prometheus.Registry
}

// Close は保持しているリソースを解放する。
func (e *engine) Close() {
	if e.db != nil {
		e.db.Close()
	}
}

// buildEngine は設定から同期エンジン一式を組み立てる。
// DBPathが空の場合はオフラインストアなしのオンライン専用構成となる。
func buildEngine(cfg *config.Config) (*engine, error) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// Cookieベースのセッションを保持するHTTPクライアント
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	httpClient := &http.Client{
		Jar:     jar,
		Timeout: cfg.RequestTimeout,
	}

	client := online.NewClient(httpClient, slog.Default(), cfg.ServerURL, cfg.APIRateLimit, collector)

	var db *sql.DB
	var store syncer.OfflineStore
	if cfg.DBPath != "" {
		if err := database.RunMigrations(cfg.DBPath); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		db, err = database.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		store = offline.NewStore(db, slog.Default(), time.Now)
		slog.Info("offline store opened", slog.String("db_path", cfg.DBPath))
	} else {
		slog.Info("offline store disabled")
	}

	dispatcher := syncer.NewDispatcher(client, store, slog.Default(),
		syncer.WithStaleness(cfg.SyncStaleness),
		syncer.WithOfflineDays(cfg.OfflineDays),
		syncer.WithMetrics(collector),
	)

	return &engine{
		db:         db,
		client:     client,
		dispatcher: dispatcher,
		collector:  collector,
		registry:   registry,
	}, nil
}

// login はサーバーへログインし、成功時にディスパッチャーへ反映する。
// 認証情報が未設定の場合はログインを省略する（公開モードのサーバー向け）。
func login(ctx context.Context, cfg *config.Config, e *engine) error {
	if cfg.Username == "" {
		slog.Info("no credentials configured, assuming public server")
		e.dispatcher.SetLoggedIn(true)
		return nil
	}

	if err := e.client.Login(ctx, cfg.Username, cfg.Password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	e.dispatcher.SetLoggedIn(true)
	slog.Info("logged in", slog.String("username", cfg.Username))
	return nil
}

// runServe は同期デーモンと制御APIを起動する。
// 起動時に1回同期し、以降はSyncIntervalごとの定期同期ループを回す。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	e, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.dispatcher.Restore(ctx)

	if err := login(ctx, cfg, e); err != nil {
		// ログイン失敗でもオフラインスナップショットがあれば閲覧は継続できる
		slog.Error("login failed, continuing with cached data",
			slog.String("error", err.Error()),
		)
	}

	// 起動時の初回同期。失敗しても定期同期でリトライされる。
	if err := e.dispatcher.Sync(ctx, true); err != nil {
		slog.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	// 定期同期ループ
	go e.dispatcher.Start(ctx, cfg.SyncInterval)

	controller := stream.NewController(e.dispatcher, slog.Default())

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		Controller:     controller,
		ItemsPerPage:   cfg.ItemsPerPage,
		Dispatcher:     e.dispatcher,
		Validator:      e.dispatcher,
		MetricsHandler: metrics.Handler(e.registry),
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("control API starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runSync は同期を1回実行して終了する。cronから呼び出す用途。
func runSync(cfg *config.Config) error {
	e, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	e.dispatcher.Restore(ctx)

	if err := login(ctx, cfg, e); err != nil {
		return err
	}

	if err := e.dispatcher.Sync(ctx, true); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	slog.Info("sync completed")
	return nil
}

// runClear はオフラインスナップショットと保留キューを全削除する。
// 未送信のステータス変更も破棄されるため注意。
func runClear(cfg *config.Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("DB_PATH is not configured, nothing to clear")
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store := offline.NewStore(db, slog.Default(), time.Now)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Delete(ctx); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	slog.Info("offline store cleared", slog.String("db_path", cfg.DBPath))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("DB_PATH is not configured")
	}

	slog.Info("running database migrations", slog.String("db_path", cfg.DBPath))

	if err := database.RunMigrations(cfg.DBPath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(addr string) error {
	url := fmt.Sprintf("http://%s/healthz", addr)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
