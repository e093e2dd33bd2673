// Package metrics は認証処理と HTTP リクエストの Prometheus メトリクスを提供します。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証処理の種別。
const (
	OperationSignUp          = "sign_up"
	OperationSignIn          = "sign_in"
	OperationLogout          = "logout"
	OperationIsAuthenticated = "is_authenticated"
	OperationAuthGate        = "auth_gate"
)

// 認証処理の結果。
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Recorder は認証処理の結果を記録します。nil 許容の実装として Noop があります。
type Recorder interface {
	ObserveOperation(operation, outcome string)
}

// Noop は何も記録しない Recorder です。
type Noop struct{}

// ObserveOperation は何もしません。
func (Noop) ObserveOperation(string, string) {}

// Metrics はこのサービス固有のメトリクスです。
type Metrics struct {
	registry        *prometheus.Registry
	Operations      *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New は専用レジストリを作成し、メトリクスと Go/プロセスのコレクターを登録します。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codedeck_auth_operations_total",
				Help: "Total number of account/session operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codedeck_http_request_duration_seconds",
				Help:    "HTTP request latency by method, route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	reg.MustRegister(m.Operations)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Registry はメトリクスのレジストリを返します。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation は認証処理の結果をカウントします。
func (m *Metrics) ObserveOperation(operation, outcome string) {
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// Middleware はリクエストの処理時間を記録する Gin ミドルウェアです。
// route には登録済みのパスを使い、未登録パスは "unmatched" にまとめます。
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler は /metrics 用のハンドラーを返します。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
