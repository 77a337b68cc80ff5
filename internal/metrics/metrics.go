// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder はメトリクス収集のインターフェース。
// バッチドライバーから利用する。
type Recorder interface {
	RecordProcessed(resultKind string)
	RecordOutcome(outcome string)
	RecordResolveRetry()
	RecordResolveLatency(duration time.Duration)
	RecordApplyLatency(duration time.Duration)
	RecordPersistFailure()
	SetPending(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	processed       *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	resolveRetries  prometheus.Counter
	resolveLatency  prometheus.Histogram
	applyLatency    prometheus.Histogram
	persistFailures prometheus.Counter
	pending         prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rostersync_records_processed_total",
			Help: "処理済みとしてコミットされたレコード数（結果種別ごと）",
		}, []string{"result_kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rostersync_resolve_outcomes_total",
			Help: "ディレクトリ解決結果の種別ごとの件数",
		}, []string{"outcome"}),
		resolveRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rostersync_resolve_retries_total",
			Help: "インフラ障害によるディレクトリ解決のリトライ回数",
		}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rostersync_resolve_latency_seconds",
			Help:    "ディレクトリ解決のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rostersync_apply_latency_seconds",
			Help:    "ダウンストリーム反映のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rostersync_tracker_persist_failures_total",
			Help: "トラッカー永続化の失敗回数",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rostersync_tracker_pending",
			Help: "未処理のレコード数",
		}),
	}

	reg.MustRegister(
		c.processed,
		c.outcomes,
		c.resolveRetries,
		c.resolveLatency,
		c.applyLatency,
		c.persistFailures,
		c.pending,
	)

	return c
}

// RecordProcessed はコミットされたレコードを記録する。
func (c *Collector) RecordProcessed(resultKind string) {
	c.processed.WithLabelValues(resultKind).Inc()
}

// RecordOutcome はディレクトリ解決結果を記録する。
func (c *Collector) RecordOutcome(outcome string) {
	c.outcomes.WithLabelValues(outcome).Inc()
}

// RecordResolveRetry はリトライを記録する。
func (c *Collector) RecordResolveRetry() {
	c.resolveRetries.Inc()
}

// RecordResolveLatency はディレクトリ解決のレイテンシを記録する。
func (c *Collector) RecordResolveLatency(duration time.Duration) {
	c.resolveLatency.Observe(duration.Seconds())
}

// RecordApplyLatency はダウンストリーム反映のレイテンシを記録する。
func (c *Collector) RecordApplyLatency(duration time.Duration) {
	c.applyLatency.Observe(duration.Seconds())
}

// RecordPersistFailure はトラッカー永続化の失敗を記録する。
func (c *Collector) RecordPersistFailure() {
	c.persistFailures.Inc()
}

// SetPending は未処理レコード数を設定する。
func (c *Collector) SetPending(count int) {
	c.pending.Set(float64(count))
}

var _ Recorder = (*Collector)(nil)
