package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global metrics container for the dispatcher and the four
// pipeline stage consumers.
type Metrics struct {
	// HTTP dispatcher metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Queue metrics
	QueueMessagesPublished *prometheus.CounterVec
	QueueMessagesConsumed  *prometheus.CounterVec
	QueueMessageLag        *prometheus.HistogramVec
	QueueRedeliveries      *prometheus.CounterVec
	QueueDepth             *prometheus.GaugeVec

	// Stage metrics
	StageDuration      *prometheus.HistogramVec
	StageOutcomesTotal *prometheus.CounterVec

	// Business metrics
	GazettesCrawled    *prometheus.CounterVec
	OCRCacheHits       *prometheus.CounterVec
	AnalysisFindings   *prometheus.HistogramVec
	WebhookDeliveries  *prometheus.CounterVec
	WebhookLatency     *prometheus.HistogramVec
	CircuitBreakerOpen *prometheus.GaugeVec

	// System metrics
	MemoryUsage *prometheus.GaugeVec
	Goroutines  prometheus.Gauge

	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics constructs and registers all collectors under the given
// namespace/subsystem.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests handled by the dispatcher",
			},
			[]string{"route", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests handled by the dispatcher",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),

		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		QueueMessagesPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_messages_published_total",
				Help:      "Total number of messages published to a queue",
			},
			[]string{"queue"},
		),

		QueueMessagesConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_messages_consumed_total",
				Help:      "Total number of messages consumed from a queue",
			},
			[]string{"queue", "outcome"},
		),

		QueueMessageLag: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_message_lag_seconds",
				Help:      "Time between a message being enqueued and claimed",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"queue"},
		),

		QueueRedeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_redeliveries_total",
				Help:      "Total number of message redeliveries after a missed ack",
			},
			[]string{"queue"},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_depth",
				Help:      "Approximate number of pending entries in a queue stream",
			},
			[]string{"queue"},
		),

		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stage_duration_seconds",
				Help:      "Duration of a single stage-consumer message handling",
				Buckets:   []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),

		StageOutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stage_outcomes_total",
				Help:      "Total number of stage-consumer outcomes",
			},
			[]string{"stage", "outcome"},
		),

		GazettesCrawled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gazettes_crawled_total",
				Help:      "Total number of gazettes discovered by spiders",
			},
			[]string{"spider_type", "outcome"},
		),

		OCRCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ocr_cache_result_total",
				Help:      "OCR cache lookups by result",
			},
			[]string{"result"},
		),

		AnalysisFindings: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "analysis_findings_count",
				Help:      "Number of findings produced per analysis run",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			},
			[]string{"analyzer"},
		),

		WebhookDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook delivery attempts",
			},
			[]string{"outcome"},
		),

		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_delivery_duration_seconds",
				Help:      "Duration of webhook delivery attempts",
				Buckets:   []float64{.05, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		CircuitBreakerOpen: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "circuit_breaker_open",
				Help:      "1 if the named circuit breaker is open, else 0",
			},
			[]string{"breaker"},
		),

		MemoryUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage",
			},
			[]string{"type"},
		),

		Goroutines: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics container, lazily initializing it with the
// pipeline's default namespace if InitMetrics was never called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("diario", "pipeline")
	}
	return defaultMetrics
}

// RecordHTTPRequest records a single dispatcher HTTP request.
func (m *Metrics) RecordHTTPRequest(route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordQueuePublish records a message published onto a queue.
func (m *Metrics) RecordQueuePublish(queue string) {
	m.QueueMessagesPublished.WithLabelValues(queue).Inc()
}

// RecordQueueConsume records a message consumed from a queue, along with the
// time it waited between publish and claim.
func (m *Metrics) RecordQueueConsume(queue, outcome string, lag time.Duration) {
	m.QueueMessagesConsumed.WithLabelValues(queue, outcome).Inc()
	m.QueueMessageLag.WithLabelValues(queue).Observe(lag.Seconds())
}

// RecordQueueRedelivery records a redelivered (reclaimed) message.
func (m *Metrics) RecordQueueRedelivery(queue string) {
	m.QueueRedeliveries.WithLabelValues(queue).Inc()
}

// SetQueueDepth sets the approximate pending-entry count for a queue.
func (m *Metrics) SetQueueDepth(queue string, depth float64) {
	m.QueueDepth.WithLabelValues(queue).Set(depth)
}

// RecordStage records the outcome and duration of one stage-consumer
// message handling cycle.
func (m *Metrics) RecordStage(stage, outcome string, duration time.Duration) {
	m.StageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordGazetteCrawled records a gazette discovered by a spider run.
func (m *Metrics) RecordGazetteCrawled(spiderType, outcome string) {
	m.GazettesCrawled.WithLabelValues(spiderType, outcome).Inc()
}

// RecordOCRCacheResult records an OCR cache lookup ("hit", "miss", "claimed").
func (m *Metrics) RecordOCRCacheResult(result string) {
	m.OCRCacheHits.WithLabelValues(result).Inc()
}

// RecordAnalysisFindings records the number of findings an analyzer produced.
func (m *Metrics) RecordAnalysisFindings(analyzer string, count int) {
	m.AnalysisFindings.WithLabelValues(analyzer).Observe(float64(count))
}

// RecordWebhookDelivery records a webhook delivery attempt outcome and its
// latency.
func (m *Metrics) RecordWebhookDelivery(outcome string, duration time.Duration) {
	m.WebhookDeliveries.WithLabelValues(outcome).Inc()
	m.WebhookLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetCircuitBreakerOpen records whether a named circuit breaker is open.
func (m *Metrics) SetCircuitBreakerOpen(breaker string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.CircuitBreakerOpen.WithLabelValues(breaker).Set(v)
}

// SetServiceInfo sets the service_info gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts a standalone HTTP server exposing /metrics and
// /health on the given port.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
