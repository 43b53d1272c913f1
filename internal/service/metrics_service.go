package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and
// the generation pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	generationDuration *prometheus.HistogramVec
	generationFailures *prometheus.CounterVec
	questionsGenerated prometheus.Counter

	explanationCacheHits   prometheus.Counter
	explanationCacheMisses prometheus.Counter
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	generationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_duration_seconds",
		Help:    "Duration of content generation calls",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	generationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_failures_total",
		Help: "Total failed generation calls by kind",
	}, []string{"kind"})

	questionsGenerated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "questions_generated_total",
		Help: "Total questions produced and stored",
	})

	explanationCacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "explanation_cache_hits_total",
		Help: "Explanation lookups served from the store or cache",
	})

	explanationCacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "explanation_cache_misses_total",
		Help: "Explanation lookups that triggered generation",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, generationDuration, generationFailures,
		questionsGenerated, explanationCacheHits, explanationCacheMisses, goroutines)

	return &MetricsService{
		registry:               registry,
		handler:                promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:        requestDuration,
		requestTotal:           requestTotal,
		generationDuration:     generationDuration,
		generationFailures:     generationFailures,
		questionsGenerated:     questionsGenerated,
		explanationCacheHits:   explanationCacheHits,
		explanationCacheMisses: explanationCacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveGeneration records one generation call. kind is "questions" or
// "explanation".
func (m *MetricsService) ObserveGeneration(kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.generationDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		m.generationFailures.WithLabelValues(kind).Inc()
	}
}

// AddQuestionsGenerated counts stored questions.
func (m *MetricsService) AddQuestionsGenerated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.questionsGenerated.Add(float64(n))
}

// RecordExplanationLookup counts cache outcomes for explanation requests.
func (m *MetricsService) RecordExplanationLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.explanationCacheHits.Inc()
	} else {
		m.explanationCacheMisses.Inc()
	}
}
