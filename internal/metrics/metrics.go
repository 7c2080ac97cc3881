// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスとHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(provider, outcome string)
	ObserveProviderRequest(provider, step string, d time.Duration)
	RecordSessionValidation(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins            *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	sessionValidation *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_login_total",
			Help: "プロバイダー・結果別のログイン試行数",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_provider_request_duration_seconds",
			Help:    "プロバイダーへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "step"}),
		sessionValidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_session_validation_total",
			Help: "結果別のセッション検証数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.providerLatency,
		c.sessionValidation,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。成功時のoutcomeは"success"。
func (c *Collector) RecordLogin(provider, outcome string) {
	c.logins.WithLabelValues(provider, outcome).Inc()
}

// ObserveProviderRequest はプロバイダーへのリクエスト時間を記録する。
func (c *Collector) ObserveProviderRequest(provider, step string, d time.Duration) {
	c.providerLatency.WithLabelValues(provider, step).Observe(d.Seconds())
}

// RecordSessionValidation はセッション検証の結果を記録する。
func (c *Collector) RecordSessionValidation(result string) {
	c.sessionValidation.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
