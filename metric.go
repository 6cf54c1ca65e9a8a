package ensagent

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const (
	MetricNameSpace = "ensagent"
)

var (
	signerBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricNameSpace,
			Name:      "signer_balance",
			Help:      "eth balance of the registration signer",
		},
		[]string{"network", "signer"},
	)

	registrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricNameSpace,
			Name:      "registrations_total",
			Help:      "finished registrations by result kind",
		},
		[]string{"network", "result"},
	)

	registrationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricNameSpace,
			Name:      "registration_seconds",
			Help:      "wall time of a registration run, maturation wait included",
			Buckets:   []float64{1, 10, 30, 60, 90, 120, 180, 300, 600},
		},
		[]string{"network"},
	)

	quotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricNameSpace,
			Name:      "quotes_total",
			Help:      "rent price queries",
		},
		[]string{"network", "result"},
	)

	pendingCommitments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricNameSpace,
			Name:      "pending_commitments",
			Help:      "commitments in the recovery journal",
		},
		[]string{"network"},
	)
)

func init() {
	prometheus.MustRegister(
		signerBalance,
		registrationsTotal,
		registrationSeconds,
		quotesTotal,
		pendingCommitments,
	)
}

func metricSignerBalance(network, addr string, bal *big.Int) {
	eth, _ := decimal.NewFromBigInt(bal, -18).Float64()
	signerBalance.WithLabelValues(network, addr).Set(eth)
}

func metricRegistration(network, result string, start time.Time) {
	registrationsTotal.WithLabelValues(network, result).Inc()
	registrationSeconds.WithLabelValues(network).Observe(time.Since(start).Seconds())
}

func metricQuote(network, result string) {
	quotesTotal.WithLabelValues(network, result).Inc()
}

func metricPendingCommitments(network string, n int) {
	pendingCommitments.WithLabelValues(network).Set(float64(n))
}
