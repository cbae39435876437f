// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// メッセージ処理結果のラベル値
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
)

// MetricsCollector はメトリクス収集のインターフェース。
// Hubやミドルウェアから利用する。
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
	RecordMessage(kind, outcome, code string)
	RecordBroadcast(delivered, dropped int)
	RecordApplyLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	connections  prometheus.Gauge
	messages     *prometheus.CounterVec
	deliveries   prometheus.Counter
	evictions    prometheus.Counter
	applyLatency prometheus.Histogram
	httpStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kitchenhub_connections",
			Help: "現在接続中のWebSocket接続数",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenhub_messages_total",
			Help: "処理したメッセージ数（種類・結果・エラーコード別）",
		}, []string{"kind", "outcome", "code"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kitchenhub_broadcast_deliveries_total",
			Help: "他の接続へ配信したフレームの合計数",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kitchenhub_broadcast_evictions_total",
			Help: "送信キューが溢れて切断した接続の合計数",
		}),
		applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kitchenhub_apply_latency_seconds",
			Help:    "ストアへの反映のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.connections,
		c.messages,
		c.deliveries,
		c.evictions,
		c.applyLatency,
		c.httpStatus,
	)

	return c
}

// ConnectionOpened は接続数を1増やす。
func (c *Collector) ConnectionOpened() {
	c.connections.Inc()
}

// ConnectionClosed は接続数を1減らす。
func (c *Collector) ConnectionClosed() {
	c.connections.Dec()
}

// RecordMessage はメッセージの処理結果を記録する。成功時のcodeは空文字。
func (c *Collector) RecordMessage(kind, outcome, code string) {
	c.messages.WithLabelValues(kind, outcome, code).Inc()
}

// RecordBroadcast は1回の配信での配信数と切断数を記録する。
func (c *Collector) RecordBroadcast(delivered, dropped int) {
	c.deliveries.Add(float64(delivered))
	c.evictions.Add(float64(dropped))
}

// RecordApplyLatency は反映のレイテンシを記録する。
func (c *Collector) RecordApplyLatency(duration time.Duration) {
	c.applyLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) ConnectionOpened()                    {}
func (Nop) ConnectionClosed()                    {}
func (Nop) RecordMessage(string, string, string) {}
func (Nop) RecordBroadcast(int, int)             {}
func (Nop) RecordApplyLatency(time.Duration)     {}
func (Nop) RecordHTTPStatus(int)                 {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
