package syncer

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/online"
)

// --- モック ---

type mockSource struct {
	getEntriesFn   func(ctx context.Context, params model.FetchParams) (*model.EntryPage, error)
	markAllFn      func(ctx context.Context, ids []int64) error
	markEntryFn    func(ctx context.Context, id int64, unread bool) error
	starEntryFn    func(ctx context.Context, id int64, starred bool) error
	tagsFn         func(ctx context.Context) ([]model.Tag, error)
	sourceStatsFn  func(ctx context.Context) ([]model.Source, error)
	statsFn        func(ctx context.Context) (*model.Stats, error)
	syncFn         func(ctx context.Context, since time.Time) (*online.SyncResult, error)
	syncStatusesFn func(ctx context.Context, statuses []model.PendingStatusChange) ([]string, error)
}

func (m *mockSource) GetEntries(ctx context.Context, params model.FetchParams) (*model.EntryPage, error) {
	if m.getEntriesFn != nil {
		return m.getEntriesFn(ctx, params)
	}
	return &model.EntryPage{}, nil
}
func (m *mockSource) MarkAll(ctx context.Context, ids []int64) error {
	if m.markAllFn != nil {
		return m.markAllFn(ctx, ids)
	}
	return nil
}
func (m *mockSource) MarkEntry(ctx context.Context, id int64, unread bool) error {
	if m.markEntryFn != nil {
		return m.markEntryFn(ctx, id, unread)
	}
	return nil
}
func (m *mockSource) StarEntry(ctx context.Context, id int64, starred bool) error {
	if m.starEntryFn != nil {
		return m.starEntryFn(ctx, id, starred)
	}
	return nil
}
func (m *mockSource) Tags(ctx context.Context) ([]model.Tag, error) {
	if m.tagsFn != nil {
		return m.tagsFn(ctx)
	}
	return nil, nil
}
func (m *mockSource) SourceStats(ctx context.Context) ([]model.Source, error) {
	if m.sourceStatsFn != nil {
		return m.sourceStatsFn(ctx)
	}
	return nil, nil
}
func (m *mockSource) Stats(ctx context.Context) (*model.Stats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &model.Stats{}, nil
}
func (m *mockSource) Sync(ctx context.Context, since time.Time) (*online.SyncResult, error) {
	if m.syncFn != nil {
		return m.syncFn(ctx, since)
	}
	return &online.SyncResult{LastUpdate: time.Now()}, nil
}
func (m *mockSource) SyncStatuses(ctx context.Context, statuses []model.PendingStatusChange) ([]string, error) {
	if m.syncStatusesFn != nil {
		return m.syncStatusesFn(ctx, statuses)
	}
	ids := make([]string, len(statuses))
	for i, s := range statuses {
		ids[i] = s.ID
	}
	return ids, nil
}

type mockStore struct {
	getEntriesFn        func(ctx context.Context, params model.FetchParams) (*model.EntryPage, error)
	replaceSnapshotFn   func(ctx context.Context, entries []model.Entry, tags []model.Tag, sources []model.Source) error
	saveEntriesFn       func(ctx context.Context, entries []model.Entry) error
	replaceTagsFn       func(ctx context.Context, tags []model.Tag, sources []model.Source) error
	applyStatusesFn     func(ctx context.Context, statuses []model.EntryStatus) error
	entriesMarkFn       func(ctx context.Context, ids []int64, unread bool) ([]int64, error)
	entriesStarFn       func(ctx context.Context, ids []int64, starred bool) ([]int64, error)
	enqueueStatusesFn   func(ctx context.Context, statuses []model.PendingStatusChange) error
	pendingStatusesFn   func(ctx context.Context) ([]model.PendingStatusChange, error)
	removeStatusesFn    func(ctx context.Context, ids []string) error
	needsSyncFn         func(ctx context.Context) (bool, error)
	queueDepthFn        func(ctx context.Context) (int, error)
	lastUpdateFn        func(ctx context.Context) (time.Time, error)
	setLastUpdateFn     func(ctx context.Context, t time.Time) error
	cleanupOldEntriesFn func(ctx context.Context, days int) error
	tagsFn              func(ctx context.Context) ([]model.Tag, error)
	sourcesFn           func(ctx context.Context) ([]model.Source, error)
	getPreferenceFn     func(ctx context.Context, key string) (string, error)
	setPreferenceFn     func(ctx context.Context, key, value string) error
	deleteFn            func(ctx context.Context) error
}

func (m *mockStore) GetEntries(ctx context.Context, params model.FetchParams) (*model.EntryPage, error) {
	if m.getEntriesFn != nil {
		return m.getEntriesFn(ctx, params)
	}
	return &model.EntryPage{}, nil
}
func (m *mockStore) ReplaceSnapshot(ctx context.Context, entries []model.Entry, tags []model.Tag, sources []model.Source) error {
	if m.replaceSnapshotFn != nil {
		return m.replaceSnapshotFn(ctx, entries, tags, sources)
	}
	return nil
}
func (m *mockStore) SaveEntries(ctx context.Context, entries []model.Entry) error {
	if m.saveEntriesFn != nil {
		return m.saveEntriesFn(ctx, entries)
	}
	return nil
}
func (m *mockStore) ReplaceTagsSources(ctx context.Context, tags []model.Tag, sources []model.Source) error {
	if m.replaceTagsFn != nil {
		return m.replaceTagsFn(ctx, tags, sources)
	}
	return nil
}
func (m *mockStore) ApplyStatuses(ctx context.Context, statuses []model.EntryStatus) error {
	if m.applyStatusesFn != nil {
		return m.applyStatusesFn(ctx, statuses)
	}
	return nil
}
func (m *mockStore) EntriesMark(ctx context.Context, ids []int64, unread bool) ([]int64, error) {
	if m.entriesMarkFn != nil {
		return m.entriesMarkFn(ctx, ids, unread)
	}
	return ids, nil
}
func (m *mockStore) EntriesStar(ctx context.Context, ids []int64, starred bool) ([]int64, error) {
	if m.entriesStarFn != nil {
		return m.entriesStarFn(ctx, ids, starred)
	}
	return ids, nil
}
func (m *mockStore) EnqueueStatuses(ctx context.Context, statuses []model.PendingStatusChange) error {
	if m.enqueueStatusesFn != nil {
		return m.enqueueStatusesFn(ctx, statuses)
	}
	return nil
}
func (m *mockStore) PendingStatuses(ctx context.Context) ([]model.PendingStatusChange, error) {
	if m.pendingStatusesFn != nil {
		return m.pendingStatusesFn(ctx)
	}
	return nil, nil
}
func (m *mockStore) RemoveStatuses(ctx context.Context, ids []string) error {
	if m.removeStatusesFn != nil {
		return m.removeStatusesFn(ctx, ids)
	}
	return nil
}
func (m *mockStore) NeedsSync(ctx context.Context) (bool, error) {
	if m.needsSyncFn != nil {
		return m.needsSyncFn(ctx)
	}
	return false, nil
}
func (m *mockStore) QueueDepth(ctx context.Context) (int, error) {
	if m.queueDepthFn != nil {
		return m.queueDepthFn(ctx)
	}
	return 0, nil
}
func (m *mockStore) LastUpdate(ctx context.Context) (time.Time, error) {
	if m.lastUpdateFn != nil {
		return m.lastUpdateFn(ctx)
	}
	return time.Time{}, nil
}
func (m *mockStore) SetLastUpdate(ctx context.Context, t time.Time) error {
	if m.setLastUpdateFn != nil {
		return m.setLastUpdateFn(ctx, t)
	}
	return nil
}
func (m *mockStore) CleanupOldEntries(ctx context.Context, days int) error {
	if m.cleanupOldEntriesFn != nil {
		return m.cleanupOldEntriesFn(ctx, days)
	}
	return nil
}
func (m *mockStore) Tags(ctx context.Context) ([]model.Tag, error) {
	if m.tagsFn != nil {
		return m.tagsFn(ctx)
	}
	return nil, nil
}
func (m *mockStore) Sources(ctx context.Context) ([]model.Source, error) {
	if m.sourcesFn != nil {
		return m.sourcesFn(ctx)
	}
	return nil, nil
}
func (m *mockStore) GetPreference(ctx context.Context, key string) (string, error) {
	if m.getPreferenceFn != nil {
		return m.getPreferenceFn(ctx, key)
	}
	return "", nil
}
func (m *mockStore) SetPreference(ctx context.Context, key, value string) error {
	if m.setPreferenceFn != nil {
		return m.setPreferenceFn(ctx, key, value)
	}
	return nil
}
func (m *mockStore) Delete(ctx context.Context) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx)
	}
	return nil
}

// testLogger は出力を捨てるロガーを返す。
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOfflineDispatcher はオフライン機能が有効でログイン済みのDispatcherを返す。
func newOfflineDispatcher(source *mockSource, store *mockStore, opts ...Option) *Dispatcher {
	d := NewDispatcher(source, store, testLogger(), opts...)
	d.SetLoggedIn(true)
	d.mu.Lock()
	d.enableOffline = true
	d.mu.Unlock()
	return d
}
