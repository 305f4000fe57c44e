// Package metrics exposes prometheus collectors for settlement runs, chain
// payments and content analysis. A nil *Collector is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "greensalary"

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultPending = "pending"
	ResultSkipped = "skipped"
)

type Collector struct {
	payments      *prometheus.CounterVec
	refunds       *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runInProgress prometheus.Gauge
	analyses      *prometheus.CounterVec
	chainEvents   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	c := &Collector{}

	c.payments = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "influencer_payments_total",
			Help:      "influencer payment attempts by result",
		},
		[]string{"result"},
	)
	c.refunds = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advertiser_refunds_total",
			Help:      "advertiser refund attempts by result",
		},
		[]string{"result"},
	)
	c.runs = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_runs_total",
			Help:      "settlement runs by trigger and result",
		},
		[]string{"trigger", "result"},
	)
	c.runDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_run_duration_seconds",
			Help:      "wall time of a settlement sweep",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)
	c.runInProgress = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settlement_run_in_progress",
			Help:      "1 while a settlement sweep holds the run guard",
		},
	)
	c.analyses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_analyses_total",
			Help:      "AI analysis jobs by result",
		},
		[]string{"result"},
	)
	c.chainEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_events_total",
			Help:      "escrow payout and refund logs read from the chain",
		},
		[]string{"event", "matched"},
	)

	return c
}

func (c *Collector) Payment(result string) {
	if c == nil {
		return
	}
	c.payments.WithLabelValues(result).Inc()
}

func (c *Collector) Refund(result string) {
	if c == nil {
		return
	}
	c.refunds.WithLabelValues(result).Inc()
}

func (c *Collector) Analysis(result string) {
	if c == nil {
		return
	}
	c.analyses.WithLabelValues(result).Inc()
}

// RunStarted marks a sweep as in progress and returns the func that records
// its completion.
func (c *Collector) RunStarted(trigger string) func(result string) {
	if c == nil {
		return func(string) {}
	}
	start := time.Now()
	c.runInProgress.Set(1)
	return func(result string) {
		c.runInProgress.Set(0)
		c.runDuration.Observe(time.Since(start).Seconds())
		c.runs.WithLabelValues(trigger, result).Inc()
	}
}

// RunSkipped counts a trigger that found the run guard taken.
func (c *Collector) RunSkipped(trigger string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(trigger, ResultSkipped).Inc()
}

// ChainEvent counts an escrow log by whether the ledger knew its transaction.
func (c *Collector) ChainEvent(event string, matched bool) {
	if c == nil {
		return
	}
	c.chainEvents.WithLabelValues(event, strconv.FormatBool(matched)).Inc()
}
