package stream

import (
	"context"
	"testing"

	"github.com/hitoshi/feedsync/internal/model"
)

// loadEntries はテスト用にControllerへ記事を読み込ませる。
func loadEntries(t *testing.T, c *Controller, dispatcher *mockDispatcher, filterType model.FilterType, entries []model.Entry, hasMore bool) {
	t.Helper()

	saved := dispatcher.getEntriesFn
	dispatcher.getEntriesFn = func(ctx context.Context, params model.FetchParams) (*model.EntryPage, error) {
		return &model.EntryPage{Entries: entries, HasMore: hasMore}, nil
	}
	if err := c.Load(context.Background(), model.FetchParams{Type: filterType}); err != nil {
		t.Fatalf("テスト用の読み込みに失敗しました: %v", err)
	}
	dispatcher.getEntriesFn = saved
}

// TestMarkVisibleRead_Success は表示中の未読記事が全て既読になり、
// 未読数差分が適用されることを検証する。
func TestMarkVisibleRead_Success(t *testing.T) {
	var markedIDs []int64
	dispatcher := &mockDispatcher{
		markEntriesFn: func(ctx context.Context, ids []int64, unread bool) error {
			markedIDs = ids
			if unread {
				t.Error("既読化なのにunread=trueが渡されました")
			}
			return nil
		},
	}
	c := NewController(dispatcher, testLogger())

	read := streamEntry(3, 0)
	read.Unread = false
	entries := []model.Entry{streamEntry(1, 2), streamEntry(2, 1), read}
	loadEntries(t, c, dispatcher, model.FilterTypeNewest, entries, false)

	if err := c.MarkVisibleRead(context.Background()); err != nil {
		t.Fatalf("MarkVisibleReadに失敗しました: %v", err)
	}

	if len(markedIDs) != 2 {
		t.Errorf("未読記事のみが対象になるべきです: %v", markedIDs)
	}

	snapshot := c.Snapshot()
	for _, e := range snapshot.Entries {
		if e.Unread {
			t.Errorf("未読のまま残っている記事があります: id=%d", e.ID)
		}
	}
	if snapshot.LoadingState != LoadingStateSuccess {
		t.Errorf("状態が想定と異なります: %s", snapshot.LoadingState)
	}

	// 未読2件分の差分が適用されている
	if dispatcher.appliedTotal() != -2 {
		t.Errorf("未読数差分が想定と異なります: %d", dispatcher.appliedTotal())
	}
}

// TestMarkVisibleRead_NoUnread は未読記事がない場合に何も発行されないことを検証する。
func TestMarkVisibleRead_NoUnread(t *testing.T) {
	dispatcher := &mockDispatcher{
		markEntriesFn: func(ctx context.Context, ids []int64, unread bool) error {
			t.Error("未読なしでサーバーへ送信されました")
			return nil
		},
	}
	c := NewController(dispatcher, testLogger())

	read := streamEntry(1, 0)
	read.Unread = false
	loadEntries(t, c, dispatcher, model.FilterTypeNewest, []model.Entry{read}, false)

	if err := c.MarkVisibleRead(context.Background()); err != nil {
		t.Fatalf("MarkVisibleReadに失敗しました: %v", err)
	}
}

// TestMarkVisibleRead_RollbackOnFailure は確認失敗時に記事一覧・hasMore・
// 未読数差分が完全に元へ戻ることを検証する。部分的な復元はしない。
func TestMarkVisibleRead_RollbackOnFailure(t *testing.T) {
	dispatcher := &mockDispatcher{
		markEntriesFn: func(ctx context.Context, ids []int64, unread bool) error {
			return model.NewNetworkFailureError("接続できません")
		},
	}
	c := NewController(dispatcher, testLogger())

	entries := []model.Entry{streamEntry(1, 2), streamEntry(2, 1)}
	loadEntries(t, c, dispatcher, model.FilterTypeNewest, entries, true)

	before := c.Snapshot()

	err := c.MarkVisibleRead(context.Background())
	if !model.IsNetworkFailure(err) {
		t.Fatalf("NETWORK_FAILUREを期待しましたが: %v", err)
	}

	after := c.Snapshot()
	if len(after.Entries) != len(before.Entries) {
		t.Fatalf("記事一覧が復元されていません: %d件", len(after.Entries))
	}
	for i, e := range after.Entries {
		if !e.Unread {
			t.Errorf("未読フラグが復元されていません: id=%d", e.ID)
		}
		if e.ID != before.Entries[i].ID {
			t.Errorf("記事の順序が変わっています: %d", e.ID)
		}
	}
	if after.HasMore != before.HasMore {
		t.Error("hasMoreが復元されていません")
	}
	if after.LoadingState != before.LoadingState {
		t.Errorf("状態が復元されていません: %s", after.LoadingState)
	}

	// 適用された差分と逆差分が相殺されている
	if dispatcher.appliedTotal() != 0 {
		t.Errorf("未読数差分がロールバックされていません: %d", dispatcher.appliedTotal())
	}
}

// TestMarkVisibleRead_UnreadFilterKeepsMarked は未読フィルタ中の一括既読で、
// いま既読化した記事だけが表示に残ることを検証する。
func TestMarkVisibleRead_UnreadFilterKeepsMarked(t *testing.T) {
	dispatcher := &mockDispatcher{}
	c := NewController(dispatcher, testLogger())

	read := streamEntry(3, 0)
	read.Unread = false
	entries := []model.Entry{streamEntry(1, 2), streamEntry(2, 1), read}
	loadEntries(t, c, dispatcher, model.FilterTypeUnread, entries, false)

	if err := c.MarkVisibleRead(context.Background()); err != nil {
		t.Fatalf("MarkVisibleReadに失敗しました: %v", err)
	}

	snapshot := c.Snapshot()
	if len(snapshot.Entries) != 2 {
		t.Fatalf("既読化した記事のみが残るべきです: %d件", len(snapshot.Entries))
	}
	for _, e := range snapshot.Entries {
		if e.ID == 3 {
			t.Error("元から既読の記事が表示に残っています")
		}
	}
}

// TestMarkVisibleRead_SessionExpired_NoRollback はセッション期限切れで
// ロールバックせずそのまま伝播することを検証する。
func TestMarkVisibleRead_SessionExpired_NoRollback(t *testing.T) {
	dispatcher := &mockDispatcher{
		markEntriesFn: func(ctx context.Context, ids []int64, unread bool) error {
			return model.NewSessionExpiredError()
		},
	}
	c := NewController(dispatcher, testLogger())

	loadEntries(t, c, dispatcher, model.FilterTypeNewest, []model.Entry{streamEntry(1, 0)}, false)

	err := c.MarkVisibleRead(context.Background())
	if !model.IsSessionExpired(err) {
		t.Fatalf("SESSION_EXPIREDを期待しましたが: %v", err)
	}

	// 楽観的な既読化はそのまま残る（再ログイン後に再送される）
	snapshot := c.Snapshot()
	if snapshot.Entries[0].Unread {
		t.Error("セッション期限切れでロールバックが行われました")
	}
}

// TestMarkEntry_NoOpWhenSameValue はすでに同じ値を持つ記事のマークが
// ネットワークにもキューにも何も発行しないことを検証する。
func TestMarkEntry_NoOpWhenSameValue(t *testing.T) {
	dispatcher := &mockDispatcher{
		markEntryFn: func(ctx context.Context, id int64, unread bool) error {
			t.Error("値が変化しないのにサーバーへ送信されました")
			return nil
		},
	}
	c := NewController(dispatcher, testLogger())

	loadEntries(t, c, dispatcher, model.FilterTypeNewest, []model.Entry{streamEntry(1, 0)}, false)

	// streamEntryは未読で生成される。未読への変更はno-op。
	if err := c.MarkEntry(context.Background(), 1, true); err != nil {
		t.Fatalf("MarkEntryに失敗しました: %v", err)
	}
	if dispatcher.appliedTotal() != 0 {
		t.Errorf("no-opで未読数差分が適用されました: %d", dispatcher.appliedTotal())
	}
}

// TestMarkEntry_RollbackOnFailure は確認失敗時にフラグと未読数差分が
// 元へ戻ることを検証する。
func TestMarkEntry_RollbackOnFailure(t *testing.T) {
	dispatcher := &mockDispatcher{
		markEntryFn: func(ctx context.Context, id int64, unread bool) error {
			return model.NewNetworkFailureError("接続できません")
		},
	}
	c := NewController(dispatcher, testLogger())

	loadEntries(t, c, dispatcher, model.FilterTypeNewest, []model.Entry{streamEntry(1, 0)}, false)

	err := c.MarkEntry(context.Background(), 1, false)
	if !model.IsNetworkFailure(err) {
		t.Fatalf("NETWORK_FAILUREを期待しましたが: %v", err)
	}

	snapshot := c.Snapshot()
	if !snapshot.Entries[0].Unread {
		t.Error("未読フラグが復元されていません")
	}
	if dispatcher.appliedTotal() != 0 {
		t.Errorf("未読数差分がロールバックされていません: %d", dispatcher.appliedTotal())
	}
}

// TestStarEntry_OptimisticAndRollback はスター変更の楽観的適用と
// 失敗時のロールバックを検証する。スターは未読数に影響しない。
func TestStarEntry_OptimisticAndRollback(t *testing.T) {
	fail := false
	dispatcher := &mockDispatcher{
		starEntryFn: func(ctx context.Context, id int64, starred bool) error {
			if fail {
				return model.NewNetworkFailureError("接続できません")
			}
			return nil
		},
	}
	c := NewController(dispatcher, testLogger())

	loadEntries(t, c, dispatcher, model.FilterTypeNewest, []model.Entry{streamEntry(1, 0)}, false)

	if err := c.StarEntry(context.Background(), 1, true); err != nil {
		t.Fatalf("StarEntryに失敗しました: %v", err)
	}
	if !c.Snapshot().Entries[0].Starred {
		t.Error("スターが適用されていません")
	}
	if dispatcher.appliedTotal() != 0 {
		t.Errorf("スター変更で未読数差分が適用されました: %d", dispatcher.appliedTotal())
	}

	fail = true
	err := c.StarEntry(context.Background(), 1, false)
	if !model.IsNetworkFailure(err) {
		t.Fatalf("NETWORK_FAILUREを期待しましたが: %v", err)
	}
	if !c.Snapshot().Entries[0].Starred {
		t.Error("失敗時にスターが復元されていません")
	}
}

// TestStarEntry_UnknownEntry は一覧にない記事のスター変更がno-opであることを検証する。
func TestStarEntry_UnknownEntry(t *testing.T) {
	dispatcher := &mockDispatcher{
		starEntryFn: func(ctx context.Context, id int64, starred bool) error {
			t.Error("一覧にない記事でサーバーへ送信されました")
			return nil
		},
	}
	c := NewController(dispatcher, testLogger())

	loadEntries(t, c, dispatcher, model.FilterTypeNewest, []model.Entry{streamEntry(1, 0)}, false)

	if err := c.StarEntry(context.Background(), 999, true); err != nil {
		t.Fatalf("StarEntryに失敗しました: %v", err)
	}
}
