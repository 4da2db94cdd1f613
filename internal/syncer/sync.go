package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// syncFlightKey は同期ラウンドのsingle-flightキー。ラウンドは常に1本のみ。
const syncFlightKey = "sync"

// Sync は同期ラウンドを実行する。実行条件は次のいずれか:
// forceが真、未送信キューが空でない、前回の同期が鮮度閾値より古い。
// いずれにも該当しない場合は冗長な通信を避けるため即時no-opで返る。
// 未ログイン中も即時no-op。
// 並行して呼ばれたSyncは実行中のラウンドに合流し、同じ結果を受け取る。
func (d *Dispatcher) Sync(ctx context.Context, force bool) error {
	d.mu.Lock()
	loggedIn := d.loggedIn
	lastUpdate := d.lastUpdate
	lastAttempt := d.lastSyncAttempt
	staleness := d.staleness
	d.mu.Unlock()

	if !loggedIn {
		return nil
	}

	stale := lastUpdate.IsZero() || lastAttempt.IsZero() || d.now().Sub(lastAttempt) > staleness

	needsSync := false
	if d.offlineCapable() {
		var err error
		needsSync, err = d.store.NeedsSync(ctx)
		if err != nil {
			d.markBroken(err)
			needsSync = false
		}
	}

	if !force && !needsSync && !stale {
		return nil
	}

	_, err, _ := d.syncGroup.Do(syncFlightKey, func() (any, error) {
		return nil, d.runSyncRound(ctx)
	})
	return err
}

// TryOnline は接続確認を兼ねた強制同期を実行する。
func (d *Dispatcher) TryOnline(ctx context.Context) error {
	return d.Sync(ctx, true)
}

// Start は定期同期ループを起動する。コンテキストがキャンセルされるまで
// interval間隔でSync(force=false)を実行し続ける。
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("定期同期を開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("定期同期を停止しました")
			return
		case <-ticker.C:
			if !d.Online() {
				continue
			}
			if err := d.Sync(ctx, false); err != nil {
				d.logger.Warn("定期同期に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// runSyncRound は同期ラウンド1回分を実行する。
// オフラインモード有効時は「未送信キューの送出→サーバー差分のプル」の順で行い、
// 無効時はサーバーのナビゲーション情報の再取得のみを行う。
// lastUpdateはラウンド全体が成功した場合にのみ前進する。
func (d *Dispatcher) runSyncRound(ctx context.Context) error {
	start := d.now()

	d.mu.Lock()
	d.lastSyncAttempt = start
	d.mu.Unlock()

	var err error
	if d.offlineCapable() {
		err = d.syncOffline(ctx)
	} else {
		err = d.syncOnlineOnly(ctx)
	}

	if d.metrics != nil {
		d.metrics.RecordSyncLatency(d.now().Sub(start))
		if err != nil {
			d.metrics.RecordSyncFailure()
		} else {
			d.metrics.RecordSyncSuccess()
		}
		if d.store != nil {
			if depth, depthErr := d.store.QueueDepth(ctx); depthErr == nil {
				d.metrics.SetQueueDepth(depth)
			}
		}
	}

	return err
}

// syncOnlineOnly はオフラインストアを使わない同期を行う。
// ナビゲーション情報と統計を更新し、lastUpdateをメモリ上でのみ前進させる。
func (d *Dispatcher) syncOnlineOnly(ctx context.Context) error {
	result, err := d.source.Sync(ctx, d.lastUpdateSnapshot())
	if err != nil {
		return err
	}

	d.setNav(result.Tags, result.Sources, result.Stats)

	d.mu.Lock()
	d.lastUpdate = result.LastUpdate
	d.mu.Unlock()
	return nil
}

// syncOffline は「送出→プル」プロトコルで同期を行う。
// 一部ステータスの送信に失敗した場合でもプルまで完了させるが、
// lastUpdateは前進させずPARTIAL_SYNC_FAILUREを返す。
func (d *Dispatcher) syncOffline(ctx context.Context) error {
	rejected, err := d.flushQueue(ctx)
	if err != nil {
		return err
	}

	if err := d.pullDelta(ctx, rejected == 0); err != nil {
		return err
	}

	if rejected > 0 {
		return model.NewPartialSyncFailureError(rejected)
	}
	return nil
}

// flushQueue は未送信ステータス変更をサーバーへ送出する。
// サーバーが受理した変更のみキューから削除し、拒否された件数を返す。
// キュー全体はall-or-nothingではなく、1件の失敗が他の送出を妨げない。
func (d *Dispatcher) flushQueue(ctx context.Context) (rejected int, err error) {
	pending, err := d.store.PendingStatuses(ctx)
	if err != nil {
		d.markBroken(err)
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	accepted, err := d.source.SyncStatuses(ctx, pending)
	if err != nil {
		// ネットワーク障害ではキューを保持したまま返す。モードは変更しない。
		return 0, err
	}

	if err := d.store.RemoveStatuses(ctx, accepted); err != nil {
		d.markBroken(err)
		return 0, err
	}

	rejected = len(pending) - len(accepted)
	if d.metrics != nil {
		d.metrics.RecordStatusesFlushed(len(accepted))
		if rejected > 0 {
			d.metrics.RecordStatusesRejected(rejected)
		}
	}

	d.logger.Info("未送信ステータスを送出しました",
		slog.Int("accepted", len(accepted)),
		slog.Int("rejected", rejected),
	)
	return rejected, nil
}

// pullDelta はサーバーから差分を取得してローカルスナップショットへ反映する。
// sinceがゼロ値（初回）の場合はスナップショットを丸ごと置き換える。
// advanceLastUpdateが偽の場合、反映は行うがlastUpdateは前進させない。
func (d *Dispatcher) pullDelta(ctx context.Context, advanceLastUpdate bool) error {
	since := d.lastUpdateSnapshot()

	result, err := d.source.Sync(ctx, since)
	if err != nil {
		return err
	}

	if since.IsZero() {
		if err := d.store.ReplaceSnapshot(ctx, result.NewEntries, result.Tags, result.Sources); err != nil {
			d.markBroken(err)
			return err
		}
	} else {
		if err := d.store.SaveEntries(ctx, result.NewEntries); err != nil {
			d.markBroken(err)
			return err
		}
		if err := d.store.ApplyStatuses(ctx, result.ItemStatuses); err != nil {
			d.markBroken(err)
			return err
		}
		if err := d.store.ReplaceTagsSources(ctx, result.Tags, result.Sources); err != nil {
			d.markBroken(err)
			return err
		}
	}

	if err := d.store.CleanupOldEntries(ctx, d.offlineDays); err != nil {
		d.markBroken(err)
		return err
	}

	d.setNav(result.Tags, result.Sources, result.Stats)

	if advanceLastUpdate {
		if err := d.store.SetLastUpdate(ctx, result.LastUpdate); err != nil {
			d.markBroken(err)
			return err
		}
		d.mu.Lock()
		d.lastUpdate = result.LastUpdate
		d.mu.Unlock()
	}

	return nil
}

// lastUpdateSnapshot は現在のlastUpdateをロック付きで読み出す。
func (d *Dispatcher) lastUpdateSnapshot() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUpdate
}
