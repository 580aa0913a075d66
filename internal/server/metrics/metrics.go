// Package metrics owns the Prometheus collectors of the server. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "credkeeper"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type Metrics struct {
	authOps        *prometheus.CounterVec
	mailDeliveries *prometheus.CounterVec
	reaperSweeps   *prometheus.CounterVec
	reapedAccounts prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors with reg and serves g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Account and session operations by outcome.",
		}, []string{"operation", "outcome"}),
		mailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_deliveries_total",
			Help:      "Outbound emails by kind and outcome.",
		}, []string{"kind", "outcome"}),
		reaperSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_sweeps_total",
			Help:      "Unverified account sweeps by outcome.",
		}, []string{"outcome"}),
		reapedAccounts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_accounts_total",
			Help:      "Unverified accounts deleted by the reaper.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		gatherer: g,
	}

	reg.MustRegister(m.authOps, m.mailDeliveries, m.reaperSweeps, m.reapedAccounts, m.httpRequests, m.httpDuration)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) AuthOp(operation string, err error) {
	if m == nil {
		return
	}
	m.authOps.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *Metrics) MailDelivery(kind string, err error) {
	if m == nil {
		return
	}
	m.mailDeliveries.WithLabelValues(kind, outcome(err)).Inc()
}

// Sweep records one reaper pass and the rows it removed.
func (m *Metrics) Sweep(deleted int64, err error) {
	if m == nil {
		return
	}
	m.reaperSweeps.WithLabelValues(outcome(err)).Inc()
	if deleted > 0 {
		m.reapedAccounts.Add(float64(deleted))
	}
}

func (m *Metrics) HTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
