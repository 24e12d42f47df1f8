package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors for anchoring, polling and matching. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	AnchorTransitions *prometheus.CounterVec
	LedgerCalls       *prometheus.CounterVec
	LedgerLatency     *prometheus.HistogramVec
	PollerProcessed   *prometheus.CounterVec
	PollerLastRun     prometheus.Gauge
	EligibilityRuns   *prometheus.CounterVec
	EligibleOffers    prometheus.Histogram
	HashCacheLookups  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AnchorTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agrimrv_anchor_transitions_total",
			Help: "Persisted anchor record state transitions",
		}, []string{"from", "to"}),
		LedgerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agrimrv_ledger_calls_total",
			Help: "Ledger client calls by operation and outcome",
		}, []string{"op", "outcome"}),
		LedgerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agrimrv_ledger_call_seconds",
			Help:    "Ledger client call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		PollerProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agrimrv_poller_records_total",
			Help: "Anchor records handled by the verification poller",
		}, []string{"result"}),
		PollerLastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "agrimrv_poller_last_run_timestamp_seconds",
			Help: "Unix time of the last completed poller pass",
		}),
		EligibilityRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agrimrv_eligibility_matches_total",
			Help: "Eligibility matching runs by computed score band",
		}, []string{"band"}),
		EligibleOffers: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agrimrv_eligible_offers",
			Help:    "Number of eligible offers returned per matching run",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		HashCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agrimrv_hash_cache_lookups_total",
			Help: "Canonical hash cache lookups",
		}, []string{"result"}),
	}
}

func (m *Metrics) AnchorTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "unanchored"
	}
	m.AnchorTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) LedgerCall(op, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.LedgerCalls.WithLabelValues(op, outcome).Inc()
	m.LedgerLatency.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) PollerRecord(result string) {
	if m == nil {
		return
	}
	m.PollerProcessed.WithLabelValues(result).Inc()
}

func (m *Metrics) PollerPass(at time.Time) {
	if m == nil {
		return
	}
	m.PollerLastRun.Set(float64(at.Unix()))
}

func (m *Metrics) EligibilityMatch(band string, eligible int) {
	if m == nil {
		return
	}
	m.EligibilityRuns.WithLabelValues(band).Inc()
	m.EligibleOffers.Observe(float64(eligible))
}

func (m *Metrics) HashCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.HashCacheLookups.WithLabelValues(result).Inc()
}
