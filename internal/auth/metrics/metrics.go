package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure flows.
const (
	FlowAuthorize = "authorize"
	FlowExchange  = "exchange"
)

// Metrics holds Prometheus collectors for the authorize and token legs.
// Labels never carry client identifiers, codes or attribute values.
type Metrics struct {
	ConsentPrompts    prometheus.Counter
	ConsentDecisions  *prometheus.CounterVec
	CodesIssued       prometheus.Counter
	TokensIssued      prometheus.Counter
	Failures          *prometheus.CounterVec
	AuthorizeDuration *prometheus.HistogramVec
	ExchangeDuration  prometheus.Histogram
}

var durationBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ConsentPrompts: f.NewCounter(prometheus.CounterOpts{
			Name: "once_consent_prompts_total",
			Help: "Consent prompts rendered to users",
		}),
		ConsentDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "once_consent_decisions_total",
			Help: "Consent decisions by outcome",
		}, []string{"outcome"}),
		CodesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "once_authorization_codes_issued_total",
			Help: "Authorization codes issued after approved consent",
		}),
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "once_tokens_issued_total",
			Help: "Identity tokens issued by successful redemptions",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "once_failures_total",
			Help: "Pipeline failures by flow and kind",
		}, []string{"flow", "kind"}),
		AuthorizeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "once_authorize_duration_seconds",
			Help:    "Duration of authorize steps",
			Buckets: durationBuckets,
		}, []string{"step"}),
		ExchangeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "once_token_exchange_duration_seconds",
			Help:    "Duration of code redemptions",
			Buckets: durationBuckets,
		}),
	}
}

func (m *Metrics) IncrementConsentPrompts() {
	m.ConsentPrompts.Inc()
}

func (m *Metrics) ObserveConsentDecision(approved bool) {
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	m.ConsentDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementCodesIssued() {
	m.CodesIssued.Inc()
}

func (m *Metrics) IncrementTokensIssued() {
	m.TokensIssued.Inc()
}

func (m *Metrics) IncrementFailure(flow, kind string) {
	m.Failures.WithLabelValues(flow, kind).Inc()
}

func (m *Metrics) ObserveAuthorizeDuration(step string, d time.Duration) {
	m.AuthorizeDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) ObserveExchangeDuration(d time.Duration) {
	m.ExchangeDuration.Observe(d.Seconds())
}
