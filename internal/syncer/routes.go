package syncer

import (
	"context"

	"github.com/hitoshi/feedsync/internal/model"
)

// GetEntries は現在のモードとフィルタの対応状況に応じて
// オンラインソースまたはオフラインストアから記事ページを取得する。
//
// タグ・ソース・検索フィルタはオフラインストアが対応していないため、
// オフラインモード有効時でも常にオンラインソースへ経路を取る。
// その際オフライン（online=false）であればNETWORK_FAILUREを返す
// （OFFLINE_STORAGE_UNAVAILABLEではない。ストア自体は健全なため）。
func (d *Dispatcher) GetEntries(ctx context.Context, params model.FetchParams) (*model.EntryPage, error) {
	if params.RequiresOnline() {
		if !d.Online() {
			return nil, model.NewNetworkFailureError("このフィルタはオフライン中は利用できません")
		}
		return d.source.GetEntries(ctx, params)
	}

	if d.offlineCapable() {
		page, err := d.store.GetEntries(ctx, params)
		if err != nil {
			if model.IsStorageCorruption(err) {
				d.markBroken(err)
				if d.Online() {
					return d.source.GetEntries(ctx, params)
				}
			}
			return nil, err
		}
		return page, nil
	}

	if !d.Online() {
		return nil, model.NewNetworkFailureError("オフラインストレージが無効のため読み込めません")
	}
	return d.source.GetEntries(ctx, params)
}

// MarkEntries は複数記事の未読フラグを更新する。
// オフラインモード有効時はローカル適用とキュー追加を先に行い、
// オンラインであればサーバーへも送信する。
// サーバー送信がネットワーク障害で失敗してもキューに積まれていれば
// 成功として扱う（次回の同期で再送される）。
// セッション期限切れは常にそのまま伝播する。
func (d *Dispatcher) MarkEntries(ctx context.Context, ids []int64, unread bool) error {
	queued := false
	if d.offlineCapable() {
		if _, err := d.store.EntriesMark(ctx, ids, unread); err != nil {
			d.markBroken(err)
		} else {
			queued = true
		}
	}
	return d.confirmWrite(ctx, queued, func(ctx context.Context) error {
		if !unread {
			return d.source.MarkAll(ctx, ids)
		}
		for _, id := range ids {
			if err := d.source.MarkEntry(ctx, id, unread); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkEntry は単一記事の未読フラグを更新する。経路決定はMarkEntriesと同じ。
func (d *Dispatcher) MarkEntry(ctx context.Context, id int64, unread bool) error {
	queued := false
	if d.offlineCapable() {
		if _, err := d.store.EntriesMark(ctx, []int64{id}, unread); err != nil {
			d.markBroken(err)
		} else {
			queued = true
		}
	}
	return d.confirmWrite(ctx, queued, func(ctx context.Context) error {
		return d.source.MarkEntry(ctx, id, unread)
	})
}

// StarEntry は単一記事のスターフラグを更新する。経路決定はMarkEntriesと同じ。
func (d *Dispatcher) StarEntry(ctx context.Context, id int64, starred bool) error {
	queued := false
	if d.offlineCapable() {
		if _, err := d.store.EntriesStar(ctx, []int64{id}, starred); err != nil {
			d.markBroken(err)
		} else {
			queued = true
		}
	}
	return d.confirmWrite(ctx, queued, func(ctx context.Context) error {
		return d.source.StarEntry(ctx, id, starred)
	})
}

// EnqueueStatuses は確定済みのローカル変更をキューへ直接積む。
// オンライン送信が失敗した後のフォールバックとして使用する。
func (d *Dispatcher) EnqueueStatuses(ctx context.Context, statuses []model.PendingStatusChange) error {
	if !d.offlineCapable() {
		return model.NewOfflineStorageUnavailableError()
	}
	if err := d.store.EnqueueStatuses(ctx, statuses); err != nil {
		d.markBroken(err)
		return err
	}
	return nil
}

// confirmWrite はオンライン時のサーバー確認送信を共通化する。
// queuedが真（ローカルキューに積み済み）の場合、ネットワーク障害は
// 成功として扱う。オフライン中でキューにも積めなかった書き込みは
// NETWORK_FAILUREとして失敗させる（ユーザー起因の書き込みは沈黙させない）。
func (d *Dispatcher) confirmWrite(ctx context.Context, queued bool, send func(ctx context.Context) error) error {
	if !d.Online() {
		if !queued {
			return model.NewNetworkFailureError("オフライン中のため変更を保存できません")
		}
		return nil
	}

	if err := send(ctx); err != nil {
		if model.IsSessionExpired(err) {
			return err
		}
		if queued {
			// キューが次回同期で再送するため、ここでは成功扱いにする
			return nil
		}
		return err
	}
	return nil
}
