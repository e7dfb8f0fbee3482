// Package metrics exposes the escrow service's Prometheus counters. A nil
// *Metrics is valid and records nothing, so tests can skip wiring it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "escrow"

type Metrics struct {
	registry  *prometheus.Registry
	created   *prometheus.CounterVec
	redeemed  *prometheus.CounterVec
	cancelled prometheus.Counter
	opErrors  *prometheus.CounterVec
	payouts   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vouchers_created_total",
			Help:      "Vouchers created, by payment type.",
		}, []string{"type"}),
		redeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vouchers_redeemed_total",
			Help:      "Successful redemptions, by payment type.",
		}, []string{"type"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vouchers_cancelled_total",
			Help:      "Vouchers removed by their owner.",
		}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Rejected lifecycle operations, by operation and error code.",
		}, []string{"op", "code"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Payout dispatch attempts, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.created, m.redeemed, m.cancelled, m.opErrors, m.payouts)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) VouchersCreated(paymentType string, n int) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(paymentType).Add(float64(n))
}

func (m *Metrics) VoucherRedeemed(paymentType string) {
	if m == nil {
		return
	}
	m.redeemed.WithLabelValues(paymentType).Inc()
}

func (m *Metrics) VoucherCancelled() {
	if m == nil {
		return
	}
	m.cancelled.Inc()
}

func (m *Metrics) OperationError(op, code string) {
	if m == nil {
		return
	}
	m.opErrors.WithLabelValues(op, code).Inc()
}

// Payout outcomes: "settled", "retry", "dead_letter".
func (m *Metrics) Payout(outcome string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(outcome).Inc()
}
