// Package online はサーバーAPIへのステートレスなネットワークアダプタを提供する。
// 記事・ステータス・統計の取得と更新をHTTPで行い、オフラインモードの
// 存在を一切関知しない。
package online

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/feedsync/internal/model"
)

// Metrics はAPI呼び出しのメトリクス記録インターフェース。
type Metrics interface {
	RecordAPIStatus(statusCode int)
	RecordAPILatency(duration time.Duration)
}

// Client はサーバーAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能
	limiter    *rate.Limiter
	metrics    Metrics
}

// NewClient はClientの新しいインスタンスを生成する。
// rps（1秒あたりの最大リクエスト数）が0以下の場合はレート制限を行わない。
// metricsがnilの場合はメトリクスを記録しない。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, rps float64, metrics Metrics) *Client {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		limiter:    limiter,
		metrics:    metrics,
	}
}

// entryPayload はサーバーAPIの記事表現。
type entryPayload struct {
	ID          int64    `json:"id"`
	Datetime    string   `json:"datetime"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Link        string   `json:"link"`
	Author      string   `json:"author"`
	Source      int64    `json:"source"`
	SourceTitle string   `json:"sourcetitle"`
	Tags        []string `json:"tags"`
	Unread      bool     `json:"unread"`
	Starred     bool     `json:"starred"`
}

// toModel はAPI表現をドメインモデルへ変換する。
// 一覧表示用のTeaserはこの時点でContentから抽出する。
func (p entryPayload) toModel() (model.Entry, error) {
	datetime, err := time.Parse(time.RFC3339, p.Datetime)
	if err != nil {
		return model.Entry{}, fmt.Errorf("datetimeのパースに失敗しました: %w", err)
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return model.Entry{
		ID:          p.ID,
		Datetime:    datetime.UTC(),
		Title:       p.Title,
		Content:     p.Content,
		Teaser:      model.MakeTeaser(p.Content),
		Link:        p.Link,
		Author:      p.Author,
		Source:      p.Source,
		SourceTitle: p.SourceTitle,
		Tags:        tags,
		Unread:      p.Unread,
		Starred:     p.Starred,
	}, nil
}

// do はレート制限・エラー変換込みでHTTPリクエストを実行する。
// HTTP 403はSESSION_EXPIRED、その他の異常はNETWORK_FAILUREへ変換する。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, model.NewNetworkFailureError(err.Error())
		}
	}

	reqURL, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, model.NewNetworkFailureError("エンドポイントURLが不正です")
	}
	if query != nil {
		reqURL.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, model.NewNetworkFailureError("リクエストボディのエンコードに失敗しました")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return nil, model.NewNetworkFailureError(err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Feedsync/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("サーバーAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkFailureError(err.Error())
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordAPIStatus(resp.StatusCode)
		c.metrics.RecordAPILatency(time.Since(start))
	}

	if resp.StatusCode == http.StatusForbidden {
		return nil, model.NewSessionExpiredError()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("サーバーAPIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewNetworkFailureError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewNetworkFailureError("レスポンスボディの読み取りに失敗しました")
	}
	return payload, nil
}

// Login はユーザー認証を行いセッションを確立する。
// セッションはhttpClientのCookieJarに保持される。
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	payload, err := c.do(ctx, http.MethodPost, "/login", nil, body)
	if err != nil {
		return err
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return model.NewNetworkFailureError("ログインレスポンスのパースに失敗しました")
	}
	if !result.Success {
		return model.NewSessionExpiredError()
	}
	return nil
}

// GetEntries はサーバーから記事一覧のページを取得する。
// カーソルは(fromDatetime, fromId)の排他的下限として解釈される。
func (c *Client) GetEntries(ctx context.Context, params model.FetchParams) (*model.EntryPage, error) {
	query := url.Values{}
	query.Set("type", string(params.Type))
	if params.Tag != "" {
		query.Set("tag", params.Tag)
	}
	if params.Source != 0 {
		query.Set("source", strconv.FormatInt(params.Source, 10))
	}
	if params.Search != "" {
		query.Set("search", params.Search)
	}
	if !params.Cursor.IsZero() {
		query.Set("fromDatetime", params.Cursor.FromDatetime.UTC().Format(time.RFC3339))
		query.Set("fromId", strconv.FormatInt(params.Cursor.FromID, 10))
	}
	for _, id := range params.ExtraIDs {
		query.Add("extraIds[]", strconv.FormatInt(id, 10))
	}
	if params.Items > 0 {
		query.Set("items", strconv.Itoa(params.Items))
	}

	payload, err := c.do(ctx, http.MethodGet, "/items", query, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Entries []entryPayload `json:"entries"`
		HasMore bool           `json:"hasMore"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, model.NewNetworkFailureError("記事一覧レスポンスのパースに失敗しました")
	}

	entries := make([]model.Entry, 0, len(result.Entries))
	for _, p := range result.Entries {
		entry, err := p.toModel()
		if err != nil {
			return nil, model.NewNetworkFailureError(err.Error())
		}
		entries = append(entries, entry)
	}

	return &model.EntryPage{Entries: entries, HasMore: result.HasMore}, nil
}

// MarkAll は複数記事を一括で既読にする。冪等であり、
// すでに既読の記事が含まれていても成功として扱われる。
func (c *Client) MarkAll(ctx context.Context, ids []int64) error {
	body := map[string][]int64{"ids": ids}
	_, err := c.do(ctx, http.MethodPost, "/mark", nil, body)
	return err
}

// MarkEntry は単一記事の未読フラグを更新する。冪等。
func (c *Client) MarkEntry(ctx context.Context, id int64, unread bool) error {
	path := fmt.Sprintf("/mark/%d", id)
	if unread {
		path = fmt.Sprintf("/unmark/%d", id)
	}
	_, err := c.do(ctx, http.MethodPost, path, nil, nil)
	return err
}

// StarEntry は単一記事のスターフラグを更新する。冪等。
func (c *Client) StarEntry(ctx context.Context, id int64, starred bool) error {
	path := fmt.Sprintf("/unstarr/%d", id)
	if starred {
		path = fmt.Sprintf("/starr/%d", id)
	}
	_, err := c.do(ctx, http.MethodPost, path, nil, nil)
	return err
}

// Stats は全体の未読・スター数の統計を取得する。
func (c *Client) Stats(ctx context.Context) (*model.Stats, error) {
	payload, err := c.do(ctx, http.MethodGet, "/stats", nil, nil)
	if err != nil {
		return nil, err
	}

	var stats model.Stats
	if err := json.Unmarshal(payload, &stats); err != nil {
		return nil, model.NewNetworkFailureError("統計レスポンスのパースに失敗しました")
	}
	return &stats, nil
}

// Tags はタグ一覧を未読数付きで取得する。
func (c *Client) Tags(ctx context.Context) ([]model.Tag, error) {
	payload, err := c.do(ctx, http.MethodGet, "/tags", nil, nil)
	if err != nil {
		return nil, err
	}

	var tags []model.Tag
	if err := json.Unmarshal(payload, &tags); err != nil {
		return nil, model.NewNetworkFailureError("タグ一覧レスポンスのパースに失敗しました")
	}
	return tags, nil
}

// SourceStats はソースごとの未読数を取得する。
func (c *Client) SourceStats(ctx context.Context) ([]model.Source, error) {
	payload, err := c.do(ctx, http.MethodGet, "/sources/stats", nil, nil)
	if err != nil {
		return nil, err
	}

	var sources []model.Source
	if err := json.Unmarshal(payload, &sources); err != nil {
		return nil, model.NewNetworkFailureError("ソース統計レスポンスのパースに失敗しました")
	}
	return sources, nil
}
