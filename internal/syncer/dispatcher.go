// Package syncer はオンライン/オフラインのモード管理とデータ経路の決定を行う。
// すべての読み取り・書き込みはDispatcherを経由し、現在のモードと
// フィルタの対応状況に応じてオンラインソースまたはオフラインストアへ振り分けられる。
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/online"
)

// defaultStaleness は前回同期からこの時間を超えた場合に同期を実行する閾値。
const defaultStaleness = 5 * time.Minute

// prefKeyEnableOffline はオフラインモード設定のキー。
const prefKeyEnableOffline = "enable_offline"

// OnlineSource はサーバーAPIへのアクセスインターフェース。
type OnlineSource interface {
	GetEntries(ctx context.Context, params model.FetchParams) (*model.EntryPage, error)
	MarkAll(ctx context.Context, ids []int64) error
	MarkEntry(ctx context.Context, id int64, unread bool) error
	StarEntry(ctx context.Context, id int64, starred bool) error
	Tags(ctx context.Context) ([]model.Tag, error)
	SourceStats(ctx context.Context) ([]model.Source, error)
	Stats(ctx context.Context) (*model.Stats, error)
	Sync(ctx context.Context, since time.Time) (*online.SyncResult, error)
	SyncStatuses(ctx context.Context, statuses []model.PendingStatusChange) ([]string, error)
}

// OfflineStore はローカルスナップショットと未送信キューのインターフェース。
type OfflineStore interface {
	GetEntries(ctx context.Context, params model.FetchParams) (*model.EntryPage, error)
	ReplaceSnapshot(ctx context.Context, entries []model.Entry, tags []model.Tag, sources []model.Source) error
	SaveEntries(ctx context.Context, entries []model.Entry) error
	ReplaceTagsSources(ctx context.Context, tags []model.Tag, sources []model.Source) error
	ApplyStatuses(ctx context.Context, statuses []model.EntryStatus) error
	EntriesMark(ctx context.Context, ids []int64, unread bool) ([]int64, error)
	EntriesStar(ctx context.Context, ids []int64, starred bool) ([]int64, error)
	EnqueueStatuses(ctx context.Context, statuses []model.PendingStatusChange) error
	PendingStatuses(ctx context.Context) ([]model.PendingStatusChange, error)
	RemoveStatuses(ctx context.Context, ids []string) error
	NeedsSync(ctx context.Context) (bool, error)
	QueueDepth(ctx context.Context) (int, error)
	LastUpdate(ctx context.Context) (time.Time, error)
	SetLastUpdate(ctx context.Context, t time.Time) error
	CleanupOldEntries(ctx context.Context, days int) error
	Tags(ctx context.Context) ([]model.Tag, error)
	Sources(ctx context.Context) ([]model.Source, error)
	GetPreference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
	Delete(ctx context.Context) error
}

// Metrics は同期処理のメトリクス記録インターフェース。
type Metrics interface {
	RecordSyncSuccess()
	RecordSyncFailure()
	RecordSyncLatency(duration time.Duration)
	RecordStatusesFlushed(count int)
	RecordStatusesRejected(count int)
	SetQueueDepth(depth int)
}

// SyncState はDispatcherの現在状態のスナップショットを表す。
type SyncState struct {
	Online          bool
	Broken          bool
	EnableOffline   bool
	LoggedIn        bool
	LastUpdate      time.Time
	LastSyncAttempt time.Time
	QueueDepth      int
}

// Dispatcher はオンライン/オフラインモードの単一の権威であり、
// 同期プロトコルの実行とデータ経路の決定を担う。
// コラボレータ（OnlineSource、OfflineStore、クロック）は起動時に
// 明示的に注入され、暗黙の再初期化は行われない。
type Dispatcher struct {
	source  OnlineSource
	store   OfflineStore // 未プロビジョニングの場合はnil
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time

	staleness   time.Duration
	offlineDays int

	// syncGroup は同期ラウンドをsingle-flightに保つ。
	// 実行中のラウンドがある間に呼ばれたsyncは同じ結果を受け取る。
	syncGroup singleflight.Group

	mu              sync.Mutex
	online          bool
	broken          bool
	enableOffline   bool
	loggedIn        bool
	lastUpdate      time.Time
	lastSyncAttempt time.Time
	tags            []model.Tag
	sources         []model.Source
	stats           model.Stats
}

// Option はDispatcherの任意設定を表す。
type Option func(*Dispatcher)

// WithClock はテスト用にクロックを差し替える。
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithStaleness は同期の鮮度閾値を設定する。
func WithStaleness(staleness time.Duration) Option {
	return func(d *Dispatcher) { d.staleness = staleness }
}

// WithOfflineDays はオフラインスナップショットの保持日数を設定する。
func WithOfflineDays(days int) Option {
	return func(d *Dispatcher) { d.offlineDays = days }
}

// WithMetrics はメトリクスコレクタを設定する。
func WithMetrics(metrics Metrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// storeがnilの場合はオフラインモードを利用できない。
// 初期状態はオンライン・未ログイン。
func NewDispatcher(source OnlineSource, store OfflineStore, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:    source,
		store:     store,
		logger:    logger,
		now:       time.Now,
		staleness: defaultStaleness,
		online:    true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Restore は永続化された設定と同期メタデータをストアから読み込む。
// 起動時に1回呼び出す。ストアが読めない場合はbrokenとしてオンライン専用で継続する。
func (d *Dispatcher) Restore(ctx context.Context) {
	if d.store == nil {
		return
	}

	pref, err := d.store.GetPreference(ctx, prefKeyEnableOffline)
	if err != nil {
		d.markBroken(err)
		return
	}
	lastUpdate, err := d.store.LastUpdate(ctx)
	if err != nil {
		d.markBroken(err)
		return
	}

	d.mu.Lock()
	d.enableOffline = pref == "true"
	d.lastUpdate = lastUpdate
	d.mu.Unlock()
}

// markBroken はストレージ破損を記録し、オンライン専用動作へ縮退させる。
// broken中はユーザー設定に関わらずonlineを強制する。
func (d *Dispatcher) markBroken(err error) {
	d.logger.Error("オフラインストレージが破損したためオンライン専用に縮退します",
		slog.String("error", err.Error()),
	)
	d.mu.Lock()
	d.broken = true
	d.online = true
	d.mu.Unlock()
}

// SetLoggedIn はログイン状態を更新する。未ログイン中のsyncは即時no-opとなる。
func (d *Dispatcher) SetLoggedIn(loggedIn bool) {
	d.mu.Lock()
	d.loggedIn = loggedIn
	d.mu.Unlock()
}

// State は現在の同期状態のスナップショットを返す。
func (d *Dispatcher) State(ctx context.Context) SyncState {
	d.mu.Lock()
	state := SyncState{
		Online:          d.online,
		Broken:          d.broken,
		EnableOffline:   d.enableOffline,
		LoggedIn:        d.loggedIn,
		LastUpdate:      d.lastUpdate,
		LastSyncAttempt: d.lastSyncAttempt,
	}
	d.mu.Unlock()

	if d.store != nil && !state.Broken {
		if depth, err := d.store.QueueDepth(ctx); err == nil {
			state.QueueDepth = depth
		}
	}
	return state
}

// Online は現在オンラインモードかどうかを返す。
func (d *Dispatcher) Online() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

// SetOnline はオフラインからオンラインへ遷移し、同期ラウンドと
// タグ・ソース統計の再取得を実行する。すでにオンラインの場合はno-op。
func (d *Dispatcher) SetOnline(ctx context.Context) error {
	d.mu.Lock()
	if d.online {
		d.mu.Unlock()
		return nil
	}
	d.online = true
	d.mu.Unlock()

	d.logger.Info("オンラインモードへ遷移しました")

	if err := d.Sync(ctx, false); err != nil {
		return err
	}
	return d.RefreshNav(ctx)
}

// SetOffline はオンラインからオフラインへ明示的に遷移する。
// ストアが未プロビジョニングまたは破損している場合は
// OFFLINE_STORAGE_UNAVAILABLEを返し、モードは変更しない。
// ネットワーク障害による暗黙の遷移は行わない（遷移は常に呼び出し元の判断）。
func (d *Dispatcher) SetOffline(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.store == nil || d.broken || !d.enableOffline {
		return model.NewOfflineStorageUnavailableError()
	}

	// 実行中の同期の帳尻はlastSyncAttemptに残したまま、モードだけを反転する
	d.online = false
	d.logger.Info("オフラインモードへ遷移しました")
	return nil
}

// EnableOffline はオフラインモードの利用設定を更新し永続化する。
func (d *Dispatcher) EnableOffline(ctx context.Context, enable bool) error {
	d.mu.Lock()
	if d.store == nil || d.broken {
		d.mu.Unlock()
		if enable {
			return model.NewOfflineStorageUnavailableError()
		}
		return nil
	}
	d.enableOffline = enable
	d.mu.Unlock()

	value := "false"
	if enable {
		value = "true"
	}
	if err := d.store.SetPreference(ctx, prefKeyEnableOffline, value); err != nil {
		d.markBroken(err)
		return err
	}
	return nil
}

// Clear はローカルのキャッシュ・キュー・同期メタデータを全て破棄する。
// ストアが未プロビジョニングの場合はエラーなしで返る。
// 消去後はbrokenフラグも解除され、オフラインストレージを再利用できる。
func (d *Dispatcher) Clear(ctx context.Context) error {
	if d.store == nil {
		return nil
	}

	if err := d.store.Delete(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	d.lastUpdate = time.Time{}
	d.broken = false
	d.mu.Unlock()

	d.logger.Info("オフラインストレージを消去しました")
	return nil
}

// IsValidTag はタグ名が既知のタグ一覧に含まれるかどうかを返す。
// 一覧が未取得（空）の場合は常に有効として扱い、初回読み込み前の
// 誤った「不明なタグ」エラーを避ける。
func (d *Dispatcher) IsValidTag(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.tags) == 0 {
		return true
	}
	for _, tag := range d.tags {
		if tag.Tag == name {
			return true
		}
	}
	return false
}

// IsValidSource はソースIDが既知のソース一覧に含まれるかどうかを返す。
// 一覧が未取得（空）の場合は常に有効として扱う。
func (d *Dispatcher) IsValidSource(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.sources) == 0 {
		return true
	}
	for _, source := range d.sources {
		if source.ID == id {
			return true
		}
	}
	return false
}

// Tags は最後に取得したタグ一覧を返す。
func (d *Dispatcher) Tags() []model.Tag {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Tag(nil), d.tags...)
}

// Sources は最後に取得したソース一覧を返す。
func (d *Dispatcher) Sources() []model.Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Source(nil), d.sources...)
}

// Stats は最後に取得した統計を返す。
func (d *Dispatcher) Stats() model.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// ApplyUnreadDeltas は楽観的ステータス変更に伴うタグ・ソース・全体の
// 未読数差分をキャッシュへ適用する。未読数は導出値であり、次の同期で
// サーバーの値と結果整合する。
func (d *Dispatcher) ApplyUnreadDeltas(tagDiff map[string]int, sourceDiff map[int64]int, totalDiff int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.tags {
		if diff, ok := tagDiff[d.tags[i].Tag]; ok {
			d.tags[i].Unread = clampNonNegative(d.tags[i].Unread + diff)
		}
	}
	for i := range d.sources {
		if diff, ok := sourceDiff[d.sources[i].ID]; ok {
			d.sources[i].Unread = clampNonNegative(d.sources[i].Unread + diff)
		}
	}
	d.stats.Unread = clampNonNegative(d.stats.Unread + totalDiff)
}

// clampNonNegative は負値を0に丸める。
func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// setNav はタグ・ソース・統計のメモリキャッシュを更新する。
func (d *Dispatcher) setNav(tags []model.Tag, sources []model.Source, stats model.Stats) {
	d.mu.Lock()
	d.tags = tags
	d.sources = sources
	d.stats = stats
	d.mu.Unlock()
}

// RefreshNav はタグ・ソース統計をサーバーから再取得してキャッシュを更新する。
// オフライン中はローカルスナップショットから読み込む。
func (d *Dispatcher) RefreshNav(ctx context.Context) error {
	if !d.Online() {
		if d.store == nil {
			return model.NewNetworkFailureError("オフライン中はナビゲーションを更新できません")
		}
		tags, err := d.store.Tags(ctx)
		if err != nil {
			d.markBroken(err)
			return err
		}
		sources, err := d.store.Sources(ctx)
		if err != nil {
			d.markBroken(err)
			return err
		}
		d.mu.Lock()
		d.tags = tags
		d.sources = sources
		d.mu.Unlock()
		return nil
	}

	tags, err := d.source.Tags(ctx)
	if err != nil {
		return err
	}
	sources, err := d.source.SourceStats(ctx)
	if err != nil {
		return err
	}
	stats, err := d.source.Stats(ctx)
	if err != nil {
		return err
	}

	d.setNav(tags, sources, *stats)
	return nil
}

// offlineCapable はオフラインストアへの書き込みが可能かどうかを返す。
func (d *Dispatcher) offlineCapable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store != nil && !d.broken && d.enableOffline
}
