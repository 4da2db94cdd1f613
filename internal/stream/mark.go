package stream

import (
	"context"
	"log/slog"

	"github.com/hitoshi/feedsync/internal/model"
)

// MarkVisibleRead は表示中の未読記事を全て楽観的に既読へ変更する。
//
// 手順は取り消しスナップショット付きの2段階コミット:
// ローカル適用とundoスナップショットの記録を先に行い、サーバー確認が
// 得られたらスナップショットを破棄、拒否されたらスナップショットを
// 原子的に適用して記事一覧とhasMoreを完全に元へ戻す（部分的な復元はしない）。
// タグ・ソースごとの未読数差分も合わせて更新し、失敗時は逆差分で戻す。
func (c *Controller) MarkVisibleRead(ctx context.Context) error {
	c.mu.Lock()

	var ids []int64
	tagDiff := make(map[string]int)
	sourceDiff := make(map[int64]int)

	marked := make([]model.Entry, len(c.entries))
	for i, entry := range c.entries {
		if !entry.Unread {
			marked[i] = entry
			continue
		}

		ids = append(ids, entry.ID)
		for _, tag := range entry.Tags {
			tagDiff[tag]--
		}
		sourceDiff[entry.Source]--

		entry.Unread = false
		marked[i] = entry
	}

	if len(ids) == 0 {
		c.mu.Unlock()
		return nil
	}

	// undoスナップショット（完全復元用）
	oldEntries := c.entries
	hadMore := c.hasMore
	oldState := c.state

	// 未読フィルタ中は、いま既読化した記事だけを表示に残す
	if c.params.Type == model.FilterTypeUnread {
		kept := marked[:0:0]
		idSet := make(map[int64]bool, len(ids))
		for _, id := range ids {
			idSet[id] = true
		}
		for _, entry := range marked {
			if idSet[entry.ID] {
				kept = append(kept, entry)
			}
		}
		marked = kept
	}

	c.entries = marked
	c.state = LoadingStateLoading
	c.mu.Unlock()

	c.dispatcher.ApplyUnreadDeltas(tagDiff, sourceDiff, -len(ids))

	if err := c.dispatcher.MarkEntries(ctx, ids, false); err != nil {
		if model.IsSessionExpired(err) {
			return err
		}

		// 完全ロールバック: 記事一覧・hasMore・未読数差分を全て元へ戻す
		c.mu.Lock()
		c.entries = oldEntries
		c.hasMore = hadMore
		c.state = oldState
		c.mu.Unlock()
		c.dispatcher.ApplyUnreadDeltas(invertTagDiff(tagDiff), invertSourceDiff(sourceDiff), len(ids))

		c.logger.Warn("一括既読化に失敗したためロールバックしました",
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()),
		)
		return err
	}

	c.mu.Lock()
	c.state = LoadingStateSuccess
	c.mu.Unlock()
	return nil
}

// MarkEntry は単一記事の未読フラグを楽観的に変更する。
// サーバー確認が拒否された場合はローカルの変更を元へ戻すが、
// セッション期限切れの場合はロールバックせずそのまま伝播する
// （呼び出し元が再ログインへ誘導する）。
func (c *Controller) MarkEntry(ctx context.Context, id int64, unread bool) error {
	changed, entry := c.flipEntry(id, func(e *model.Entry) bool {
		if e.Unread == unread {
			return false
		}
		e.Unread = unread
		return true
	})
	if !changed {
		// すでに同じ状態。キューにもネットワークにも何も発行しない。
		return nil
	}

	diff := -1
	if unread {
		diff = 1
	}
	tagDiff := make(map[string]int, len(entry.Tags))
	for _, tag := range entry.Tags {
		tagDiff[tag] = diff
	}
	c.dispatcher.ApplyUnreadDeltas(tagDiff, map[int64]int{entry.Source: diff}, diff)

	if err := c.dispatcher.MarkEntry(ctx, id, unread); err != nil {
		if model.IsSessionExpired(err) {
			return err
		}

		c.flipEntry(id, func(e *model.Entry) bool {
			e.Unread = !unread
			return true
		})
		c.dispatcher.ApplyUnreadDeltas(invertTagDiff(tagDiff), map[int64]int{entry.Source: -diff}, -diff)
		return err
	}
	return nil
}

// StarEntry は単一記事のスターフラグを楽観的に変更する。
// 失敗時の扱いはMarkEntryと同じ。スターは未読数に影響しない。
func (c *Controller) StarEntry(ctx context.Context, id int64, starred bool) error {
	changed, _ := c.flipEntry(id, func(e *model.Entry) bool {
		if e.Starred == starred {
			return false
		}
		e.Starred = starred
		return true
	})
	if !changed {
		return nil
	}

	if err := c.dispatcher.StarEntry(ctx, id, starred); err != nil {
		if model.IsSessionExpired(err) {
			return err
		}

		c.flipEntry(id, func(e *model.Entry) bool {
			e.Starred = !starred
			return true
		})
		return err
	}
	return nil
}

// flipEntry は一覧内の指定記事へ変更関数を適用する。
// 記事が見つかり変更が行われた場合にtrueと変更後の記事を返す。
func (c *Controller) flipEntry(id int64, mutate func(*model.Entry) bool) (bool, model.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		if c.entries[i].ID == id {
			if !mutate(&c.entries[i]) {
				return false, c.entries[i]
			}
			return true, c.entries[i]
		}
	}
	return false, model.Entry{}
}

// invertTagDiff はタグ未読数差分の逆差分を返す。
func invertTagDiff(diff map[string]int) map[string]int {
	inverted := make(map[string]int, len(diff))
	for tag, d := range diff {
		inverted[tag] = -d
	}
	return inverted
}

// invertSourceDiff はソース未読数差分の逆差分を返す。
func invertSourceDiff(diff map[int64]int) map[int64]int {
	inverted := make(map[int64]int, len(diff))
	for source, d := range diff {
		inverted[source] = -d
	}
	return inverted
}
