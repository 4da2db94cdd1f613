package online

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// SyncResult はサーバーとの同期ラウンド1回分の結果を表す。
type SyncResult struct {
	LastUpdate    time.Time           // サーバー側スナップショットの確定時刻
	NewEntries    []model.Entry       // since以降に追加・更新された記事
	ItemStatuses  []model.EntryStatus // since以降に変化した記事ステータス
	Tags          []model.Tag
	Sources       []model.Source
	Stats         model.Stats
}

// syncPayload はGET /items/syncのレスポンス表現。
type syncPayload struct {
	LastUpdate   string         `json:"lastUpdate"`
	NewItems     []entryPayload `json:"newItems"`
	ItemUpdates  []struct {
		ID      int64 `json:"id"`
		Unread  bool  `json:"unread"`
		Starred bool  `json:"starred"`
	} `json:"itemUpdates"`
	Tags    []model.Tag    `json:"tags"`
	Sources []model.Source `json:"sources"`
	Stats   model.Stats    `json:"stats"`
}

// Sync はサーバーから差分スナップショットを取得する。
// sinceがゼロ値の場合は全量を取得する。
func (c *Client) Sync(ctx context.Context, since time.Time) (*SyncResult, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	query.Set("itemsStatuses", "true")

	payload, err := c.do(ctx, http.MethodGet, "/items/sync", query, nil)
	if err != nil {
		return nil, err
	}

	var raw syncPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, model.NewNetworkFailureError("同期レスポンスのパースに失敗しました")
	}

	lastUpdate, err := time.Parse(time.RFC3339, raw.LastUpdate)
	if err != nil {
		return nil, model.NewNetworkFailureError("lastUpdateのパースに失敗しました")
	}

	result := &SyncResult{
		LastUpdate: lastUpdate.UTC(),
		Tags:       raw.Tags,
		Sources:    raw.Sources,
		Stats:      raw.Stats,
	}

	for _, p := range raw.NewItems {
		entry, err := p.toModel()
		if err != nil {
			return nil, model.NewNetworkFailureError(err.Error())
		}
		result.NewEntries = append(result.NewEntries, entry)
	}
	for _, update := range raw.ItemUpdates {
		result.ItemStatuses = append(result.ItemStatuses, model.EntryStatus{
			ID:      update.ID,
			Unread:  update.Unread,
			Starred: update.Starred,
		})
	}

	return result, nil
}

// statusPayload はPOST /items/syncのステータス変更表現。
type statusPayload struct {
	ID      string `json:"id"`
	EntryID int64  `json:"entryId"`
	Name    string `json:"name"`
	Value   bool   `json:"value"`
}

// SyncStatuses は未送信ステータス変更をサーバーへ送信し、
// 受理されたレコードのID一覧を返す。サーバーが一部を拒否した場合でも
// エラーにはせず、受理分だけを返す（部分失敗の判断は呼び出し元が行う）。
func (c *Client) SyncStatuses(ctx context.Context, statuses []model.PendingStatusChange) ([]string, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	payloads := make([]statusPayload, len(statuses))
	for i, status := range statuses {
		payloads[i] = statusPayload{
			ID:      status.ID,
			EntryID: status.EntryID,
			Name:    string(status.Name),
			Value:   status.Value,
		}
	}

	body := map[string]any{"updatedStatuses": payloads}
	payload, err := c.do(ctx, http.MethodPost, "/items/sync", nil, body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Accepted []string `json:"accepted"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, model.NewNetworkFailureError("ステータス送信レスポンスのパースに失敗しました")
	}

	// acceptedフィールドを返さない旧サーバーは全件受理とみなす
	if result.Accepted == nil {
		accepted := make([]string, len(statuses))
		for i, status := range statuses {
			accepted[i] = status.ID
		}
		return accepted, nil
	}

	return result.Accepted, nil
}
