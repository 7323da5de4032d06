package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// チケット購入試行の総数（status: sold, conflict, reverted, ambiguous, error）
	PurchasesTotal *prometheus.CounterVec

	// 返金の総数（status: success, failed）
	RefundsTotal *prometheus.CounterVec

	// 決済ゲートウェイ呼び出しのレイテンシ（operation: create_intent/confirm/refund, status）
	PaymentGatewayDuration *prometheus.HistogramVec

	// スイーパーが回収した予約数
	SweptReservationsTotal prometheus.Counter

	// 状態別のチケット数（status: available, reserved, sold, ...）
	TicketsByStatus *prometheus.GaugeVec
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		PurchasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticket_purchases_total",
				Help: "Total number of ticket purchase attempts",
			},
			[]string{"status"},
		),
		RefundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticket_refunds_total",
				Help: "Total number of refund attempts",
			},
			[]string{"status"},
		),
		PaymentGatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_duration_seconds",
				Help:    "Time spent on payment gateway calls",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "status"},
		),
		SweptReservationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swept_reservations_total",
				Help: "Total number of expired reservations reclaimed by the sweeper",
			},
		),
		TicketsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickets_by_status",
				Help: "Current number of tickets per status",
			},
			[]string{"status"},
		),
	}

	// レジストリに登録
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PurchasesTotal,
		m.RefundsTotal,
		m.PaymentGatewayDuration,
		m.SweptReservationsTotal,
		m.TicketsByStatus,
	)

	return m
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
func Get() *Metrics {
	return defaultMetrics
}
