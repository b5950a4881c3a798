package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics owns the Prometheus registry and the reward engine counters,
// and serves them over HTTP. Satisfies reward.Counters.
type Metrics struct {
	log    *zap.Logger
	server *http.Server

	payoutsTotal   *prometheus.CounterVec
	skipsTotal     *prometheus.CounterVec
	issuanceErrors prometheus.Counter
	liveSessions   prometheus.Gauge
}

func New(addr, endpoint string, log *zap.Logger) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		log: log,
		payoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reward_payouts_total",
			Help: "Total reward payouts issued, by group.",
		}, []string{"group"}),
		skipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reward_skips_total",
			Help: "Total reward fires skipped, by reason.",
		}, []string{"reason"}),
		issuanceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reward_issuance_errors_total",
			Help: "Total failed item credit attempts.",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reward_live_sessions",
			Help: "Reward sessions currently live.",
		}),
	}
	registry.MustRegister(m.payoutsTotal, m.skipsTotal, m.issuanceErrors, m.liveSessions)

	mux := http.NewServeMux()
	mux.Handle(endpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux}
	return m
}

// Start serves the registry in the background.
func (m *Metrics) Start() {
	go func() {
		m.log.Info("metrics伺服器啟動", zap.String("addr", m.server.Addr))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error("metrics伺服器異常結束", zap.Error(err))
		}
	}()
}

// Shutdown stops the HTTP server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}

func (m *Metrics) Payout(group string) {
	m.payoutsTotal.WithLabelValues(group).Inc()
}

func (m *Metrics) Skip(reason string) {
	m.skipsTotal.WithLabelValues(reason).Inc()
	if reason == "issuance_error" {
		m.issuanceErrors.Inc()
	}
}

func (m *Metrics) SetSessions(n int) {
	m.liveSessions.Set(float64(n))
}
