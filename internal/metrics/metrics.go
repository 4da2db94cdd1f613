// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// syncerとonlineの両方のメトリクスインターフェースを満たす。
type Collector struct {
	syncSuccess      prometheus.Counter
	syncFail         prometheus.Counter
	syncLatency      prometheus.Histogram
	statusesFlushed  prometheus.Counter
	statusesRejected prometheus.Counter
	queueDepth       prometheus.Gauge
	apiStatus        *prometheus.CounterVec
	apiLatency       prometheus.Histogram
	pagesLoaded      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_sync_success_total",
			Help: "同期ラウンド成功の合計数",
		}),
		syncFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_sync_fail_total",
			Help: "同期ラウンド失敗の合計数",
		}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsync_sync_latency_seconds",
			Help:    "同期ラウンドのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		statusesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_statuses_flushed_total",
			Help: "サーバーが受理したステータス変更の合計数",
		}),
		statusesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_statuses_rejected_total",
			Help: "サーバーが拒否したステータス変更の合計数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_status_queue_depth",
			Help: "未送信ステータス変更キューの現在の件数",
		}),
		apiStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_api_status_total",
			Help: "サーバーAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsync_api_latency_seconds",
			Help:    "サーバーAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		pagesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_pages_loaded_total",
			Help: "読み込まれた記事ページの合計数",
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.syncLatency,
		c.statusesFlushed,
		c.statusesRejected,
		c.queueDepth,
		c.apiStatus,
		c.apiLatency,
		c.pagesLoaded,
	)

	return c
}

// RecordSyncSuccess は同期ラウンド成功を記録する。
func (c *Collector) RecordSyncSuccess() {
	c.syncSuccess.Inc()
}

// RecordSyncFailure は同期ラウンド失敗を記録する。
func (c *Collector) RecordSyncFailure() {
	c.syncFail.Inc()
}

// RecordSyncLatency は同期ラウンドのレイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// RecordStatusesFlushed は受理されたステータス変更数を記録する。
func (c *Collector) RecordStatusesFlushed(count int) {
	c.statusesFlushed.Add(float64(count))
}

// RecordStatusesRejected は拒否されたステータス変更数を記録する。
func (c *Collector) RecordStatusesRejected(count int) {
	c.statusesRejected.Add(float64(count))
}

// SetQueueDepth は未送信キューの現在の件数を記録する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordAPIStatus はサーバーAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordAPIStatus(statusCode int) {
	c.apiStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAPILatency はサーバーAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordAPILatency(duration time.Duration) {
	c.apiLatency.Observe(duration.Seconds())
}

// RecordPageLoaded は記事ページの読み込みを記録する。
func (c *Collector) RecordPageLoaded() {
	c.pagesLoaded.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
