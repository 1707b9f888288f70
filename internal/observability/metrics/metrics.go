// Package metrics registers the prometheus instruments for the HTTP layer,
// the access gate and the background sweeps.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	gateDecisions  *prometheus.CounterVec
	paymentEvents  *prometheus.CounterVec
	sweepProcessed *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
}

// New registers the instruments on the given registerer. Passing
// prometheus.DefaultRegisterer wires them to the /metrics endpoint.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantry_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantry_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantry_gate_decisions_total",
			Help: "Access gate verdicts by outcome and reason.",
		}, []string{"outcome", "reason"}),
		paymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantry_payment_events_total",
			Help: "Payment webhook events by provider and result.",
		}, []string{"provider", "result"}),
		sweepProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantry_sweep_processed_total",
			Help: "Background sweep rows processed by kind and result.",
		}, []string{"kind", "result"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantry_feature_cache_total",
			Help: "Feature resolver cache lookups by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{
		m.httpRequests, m.httpDuration, m.gateDecisions,
		m.paymentEvents, m.sweepProcessed, m.cacheHits,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) ObserveGateDecision(outcome, reason string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) ObservePaymentEvent(provider, result string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ObserveSweep(kind, result string) {
	if m == nil {
		return
	}
	m.sweepProcessed.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveFeatureCache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheHits.WithLabelValues(outcome).Inc()
}

// GinMiddleware records request counts and latency.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
