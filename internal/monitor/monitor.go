package monitor

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "tiktok_extractor"

// Metrics represents all the application metrics
type Metrics struct {
	// API negotiation metrics
	APICalls        *prometheus.CounterVec
	APIErrors       *prometheus.CounterVec
	APICallDuration *prometheus.HistogramVec
	VersionPins     *prometheus.CounterVec

	// Collection metrics
	PagesFetched *prometheus.CounterVec
	ItemsListed  *prometheus.CounterVec

	// Extraction metrics
	Extractions      *prometheus.CounterVec
	ExtractionErrors *prometheus.CounterVec

	// Download metrics
	DownloadsTotal   *prometheus.CounterVec
	DownloadsFailed  *prometheus.CounterVec
	DownloadDuration *prometheus.HistogramVec
	DownloadSize     *prometheus.HistogramVec
	ActiveDownloads  prometheus.Gauge

	// HTTP server metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// System metrics
	Goroutines  prometheus.Gauge
	MemoryUsage prometheus.Gauge
}

// NewMetrics registers every metric with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		APICalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_calls_total",
				Help:      "Total mobile API calls by app version",
			},
			[]string{"platform", "endpoint", "version"},
		),

		APIErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Mobile API calls that failed",
			},
			[]string{"platform", "endpoint", "version"},
		),

		APICallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Time spent on mobile API calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"platform", "endpoint"},
		),

		VersionPins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_pins_total",
				Help:      "App versions pinned after negotiation",
			},
			[]string{"platform", "version"},
		),

		PagesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Collection pages fetched",
			},
			[]string{"platform", "kind"},
		),

		ItemsListed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_listed_total",
				Help:      "Items returned by collection pages",
			},
			[]string{"platform", "kind"},
		),

		Extractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Extractions by extractor",
			},
			[]string{"platform", "extractor"},
		),

		ExtractionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_errors_total",
				Help:      "Failed extractions by extractor",
			},
			[]string{"platform", "extractor"},
		),

		DownloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Total number of download attempts",
			},
			[]string{"platform"},
		),

		DownloadsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_failed_total",
				Help:      "Total number of failed downloads",
			},
			[]string{"platform"},
		),

		DownloadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_duration_seconds",
				Help:      "Time spent downloading videos",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"platform"},
		),

		DownloadSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_size_bytes",
				Help:      "Size of downloaded videos",
				Buckets:   []float64{1e5, 1e6, 1e7, 5e7, 1e8, 1e9}, // 100KB to 1GB
			},
			[]string{"platform"},
		),

		ActiveDownloads: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_downloads",
			Help:      "Number of active downloads",
		}),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP API requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP API request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		Goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines",
		}),

		MemoryUsage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Memory usage in bytes",
		}),
	}
}

// Monitor owns a metrics registry and records extraction activity into it.
// It satisfies tiktok.Recorder.
type Monitor struct {
	registry *prometheus.Registry
	metrics  *Metrics
	logger   zerolog.Logger
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor with its own registry
func NewMonitor(logger zerolog.Logger) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	return &Monitor{
		registry: reg,
		metrics:  NewMetrics(reg),
		logger:   logger,
		interval: 10 * time.Second,
		stopChan: make(chan struct{}),
	}
}

// Start starts collecting system metrics in the background
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.collectSystemMetrics()

	m.logger.Debug().Msg("Monitoring system started")
}

// Stop stops the background collection. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()

	m.logger.Debug().Msg("Monitoring system stopped")
}

// collectSystemMetrics collects system metrics periodically
func (m *Monitor) collectSystemMetrics() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.updateSystemMetrics()

		select {
		case <-ticker.C:
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) updateSystemMetrics() {
	m.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.metrics.MemoryUsage.Set(float64(memStats.Alloc))
}

// RecordAPICall records one mobile API call made with the given app version
func (m *Monitor) RecordAPICall(platform, endpoint, version string, duration time.Duration, err error) {
	m.metrics.APICalls.WithLabelValues(platform, endpoint, version).Inc()
	m.metrics.APICallDuration.WithLabelValues(platform, endpoint).Observe(duration.Seconds())
	if err != nil {
		m.metrics.APIErrors.WithLabelValues(platform, endpoint, version).Inc()
	}
}

// RecordVersionPinned records the app version a session settled on
func (m *Monitor) RecordVersionPinned(platform, version string) {
	m.metrics.VersionPins.WithLabelValues(platform, version).Inc()
	m.logger.Debug().Str("platform", platform).Str("version", version).Msg("App version pinned")
}

// RecordPage records one fetched collection page
func (m *Monitor) RecordPage(platform, kind string, items int) {
	m.metrics.PagesFetched.WithLabelValues(platform, kind).Inc()
	m.metrics.ItemsListed.WithLabelValues(platform, kind).Add(float64(items))
}

// RecordExtraction records the outcome of an extractor run
func (m *Monitor) RecordExtraction(platform, extractor string, err error) {
	m.metrics.Extractions.WithLabelValues(platform, extractor).Inc()
	if err != nil {
		m.metrics.ExtractionErrors.WithLabelValues(platform, extractor).Inc()
	}
}

// RecordDownloadStart records the start of a download
func (m *Monitor) RecordDownloadStart(platform string) {
	m.metrics.DownloadsTotal.WithLabelValues(platform).Inc()
	m.metrics.ActiveDownloads.Inc()
}

// RecordDownloadSuccess records a finished download
func (m *Monitor) RecordDownloadSuccess(platform string, duration time.Duration, size int64) {
	m.metrics.DownloadDuration.WithLabelValues(platform).Observe(duration.Seconds())
	m.metrics.DownloadSize.WithLabelValues(platform).Observe(float64(size))
	m.metrics.ActiveDownloads.Dec()
}

// RecordDownloadFailure records a failed download
func (m *Monitor) RecordDownloadFailure(platform string, duration time.Duration) {
	m.metrics.DownloadsFailed.WithLabelValues(platform).Inc()
	m.metrics.DownloadDuration.WithLabelValues(platform).Observe(duration.Seconds())
	m.metrics.ActiveDownloads.Dec()
}

// RecordHTTPRequest records a request served by the HTTP API
func (m *Monitor) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.metrics.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.metrics.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// GetMetrics returns all metrics
func (m *Monitor) GetMetrics() *Metrics {
	return m.metrics
}

// Registry returns the registry the metrics are registered with
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HealthCheck reports process health figures
func (m *Monitor) HealthCheck() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"goroutines":   runtime.NumGoroutine(),
		"memory_usage": memStats.Alloc,
		"memory_sys":   memStats.Sys,
		"gc_cycles":    memStats.NumGC,
	}
}
