// Package metrics records agent traffic as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// Recorder implements a2a.Observer, the breaker state listener and the
// routing decision hook on top of a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	circuitState *prometheus.GaugeVec
	routingTotal *prometheus.CounterVec
	llmTotal     *prometheus.CounterVec
	llmTokens    *prometheus.CounterVec
	llmDuration  *prometheus.HistogramVec
}

var _ a2a.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		callsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a2a_calls_total",
				Help: "Total agent-to-agent calls by destination, status and error code",
			},
			[]string{"destination", "status", "code"},
		),
		callDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "a2a_call_duration_seconds",
				Help:    "Duration of agent-to-agent calls including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"destination"},
		),
		circuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "a2a_circuit_state",
				Help: "Circuit breaker state per destination (0 closed, 1 half-open, 2 open)",
			},
			[]string{"destination"},
		),
		routingTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routing_decisions_total",
				Help: "Requests routed per specialist, including local handling",
			},
			[]string{"route"},
		),
		llmTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total model requests by provider and status",
			},
			[]string{"provider", "status"},
		),
		llmTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Tokens consumed by model requests",
			},
			[]string{"provider", "type"},
		),
		llmDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}
}

// ObserveCall records one client call.
func (r *Recorder) ObserveCall(_ context.Context, ev a2a.CallEvent) {
	status, code := "success", ""
	if !ev.Success {
		status, code = "error", string(ev.Code)
	}
	r.callsTotal.WithLabelValues(ev.Destination, status, code).Inc()
	r.callDuration.WithLabelValues(ev.Destination).Observe(ev.Latency.Seconds())
}

// BreakerStateChanged matches resilience.StateListener.
func (r *Recorder) BreakerStateChanged(destination string, _, to resilience.State) {
	r.circuitState.WithLabelValues(destination).Set(float64(to))
}

// ObserveRoute counts one routing decision.
func (r *Recorder) ObserveRoute(route string) {
	r.routingTotal.WithLabelValues(route).Inc()
}

// ObserveLLM records one model request.
func (r *Recorder) ObserveLLM(provider string, usage domain.Usage, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.llmTotal.WithLabelValues(provider, status).Inc()
	r.llmDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err == nil {
		r.llmTokens.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
		r.llmTokens.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// InstrumentProvider wraps p so every Chat is recorded.
func InstrumentProvider(p domain.LLMProvider, r *Recorder) domain.LLMProvider {
	if r == nil {
		return p
	}
	return &instrumentedProvider{inner: p, rec: r}
}

type instrumentedProvider struct {
	inner domain.LLMProvider
	rec   *Recorder
}

func (p *instrumentedProvider) Name() string { return p.inner.Name() }

func (p *instrumentedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := p.inner.Chat(ctx, req)
	var usage domain.Usage
	if resp != nil {
		usage = resp.Usage
	}
	p.rec.ObserveLLM(p.inner.Name(), usage, err, time.Since(start))
	return resp, err
}
