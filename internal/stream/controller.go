package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/feedsync/internal/model"
)

// Dispatcher はController が消費するデータ経路のインターフェース。
// 実装はsyncer.Dispatcher。
type Dispatcher interface {
	GetEntries(ctx context.Context, params model.FetchParams) (*model.EntryPage, error)
	MarkEntries(ctx context.Context, ids []int64, unread bool) error
	MarkEntry(ctx context.Context, id int64, unread bool) error
	StarEntry(ctx context.Context, id int64, starred bool) error
	ApplyUnreadDeltas(tagDiff map[string]int, sourceDiff map[int64]int, totalDiff int)
}

// Snapshot はUIへ公開するストリームの現在状態を表す。
type Snapshot struct {
	Entries          []model.Entry
	HasMore          bool
	LoadingState     LoadingState
	MoreLoadingState LoadingState
}

// Controller は1つの記事ストリームの状態機械。
// フィルタ切り替えのたびに世代トークンを進め、古い読み込みの結果は
// 世代が一致しない時点で無条件に破棄される。これにより応答は完了順ではなく
// 発行順に適用され、後から届いた古い結果が新しい状態を壊すことはない。
type Controller struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	mu         sync.Mutex
	params     model.FetchParams
	entries    []model.Entry
	hasMore    bool
	state      LoadingState
	moreState  LoadingState
	generation uint64
}

// NewController はControllerの新しいインスタンスを生成する。
func NewController(dispatcher Dispatcher, logger *slog.Logger) *Controller {
	return &Controller{
		dispatcher: dispatcher,
		logger:     logger,
		state:      LoadingStateInitial,
		moreState:  LoadingStateInitial,
	}
}

// Snapshot は現在のストリーム状態のコピーを返す。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Entries:          append([]model.Entry(nil), c.entries...),
		HasMore:          c.hasMore,
		LoadingState:     c.state,
		MoreLoadingState: c.moreState,
	}
}

// Load は新しいフィルタで記事一覧を初回読み込みする。
// 先行する読み込み（Load/LoadMore）の世代トークンは無効化され、
// その応答が後から届いても状態には一切反映されない。
func (c *Controller) Load(ctx context.Context, params model.FetchParams) error {
	if params.Type == "" {
		params.Type = model.FilterTypeNewest
	}
	if !model.ValidFilterTypes[params.Type] {
		return model.NewInvalidFilterError(string(params.Type))
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	params.Cursor = model.Cursor{}
	c.params = params
	// 追加読み込みでない場合は表示中の状態をクリーンにする
	c.entries = nil
	c.hasMore = false
	c.state = LoadingStateLoading
	c.moreState = LoadingStateInitial
	c.mu.Unlock()

	page, err := c.dispatcher.GetEntries(ctx, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	// 世代トークンが進んでいれば、この応答は破棄する
	if gen != c.generation {
		return nil
	}

	if err != nil {
		if model.IsSessionExpired(err) {
			// 再ログイン導線はそのまま伝播する
			return err
		}
		c.state = LoadingStateFailure
		return err
	}

	c.entries = page.Entries
	c.hasMore = page.HasMore
	c.state = LoadingStateSuccess
	return nil
}

// LoadMore は現在保持している最後の記事からページネーションカーソルを計算し、
// 次のページを末尾へ追加する。一覧が空の場合は初回読み込みと等価。
// 追加読み込みが既に実行中の間は新たな読み込みを発行しない（single-flight）。
// 追加ページの失敗は表示済みの1ページ目を破棄しない（独立したmore状態を持つ）。
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.moreState == LoadingStateLoading {
		c.mu.Unlock()
		return nil
	}
	if len(c.entries) == 0 {
		params := c.params
		c.mu.Unlock()
		return c.Load(ctx, params)
	}

	last := c.entries[len(c.entries)-1]
	params := c.params
	params.Cursor = model.Cursor{
		FromDatetime: last.Datetime,
		FromID:       last.ID,
	}
	gen := c.generation
	c.moreState = LoadingStateLoading
	c.mu.Unlock()

	page, err := c.dispatcher.GetEntries(ctx, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		// 追加読み込み中に新しいLoadが発行された。結果は破棄する。
		return nil
	}

	if err != nil {
		if model.IsSessionExpired(err) {
			c.moreState = LoadingStateInitial
			return err
		}
		c.moreState = LoadingStateFailure
		return err
	}

	c.entries = append(c.entries, dedupEntries(c.entries, page.Entries)...)
	c.hasMore = page.HasMore
	c.moreState = LoadingStateSuccess
	return nil
}

// dedupEntries は既に保持しているIDと重複する記事を除外する。
// カーソルの単調前進によりページ間の重複は起きないはずだが、
// 追加読み込み中にサーバー側で記事が挿入された場合に備える。
func dedupEntries(existing, incoming []model.Entry) []model.Entry {
	seen := make(map[int64]bool, len(existing))
	for _, entry := range existing {
		seen[entry.ID] = true
	}

	result := make([]model.Entry, 0, len(incoming))
	for _, entry := range incoming {
		if !seen[entry.ID] {
			result = append(result, entry)
		}
	}
	return result
}

// Reload は現在のフィルタで読み込みをやり直す。FAILUREからのリトライ用。
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	params := c.params
	c.mu.Unlock()
	return c.Load(ctx, params)
}
