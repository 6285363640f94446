// Package metrics exposes Prometheus counters and histograms for the
// security-relevant operations: login, registration and file download.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics owns its own registry so tests and multiple servers never collide.
type Metrics struct {
	registry *prometheus.Registry

	LoginAttempts        *prometheus.CounterVec
	LoginDuration        *prometheus.HistogramVec
	RegistrationAttempts *prometheus.CounterVec
	RegistrationDuration *prometheus.HistogramVec
	FileDownloads        *prometheus.CounterVec
	FileDownloadDuration *prometheus.HistogramVec
	DatabaseUp           prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts",
		}, []string{"status"}),
		LoginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_login_duration_seconds",
			Help:    "Login request duration in seconds",
			Buckets: durationBuckets,
		}, []string{"status"}),
		RegistrationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_registration_attempts_total",
			Help: "Total number of registration attempts",
		}, []string{"status"}),
		RegistrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_registration_duration_seconds",
			Help:    "Registration request duration in seconds",
			Buckets: durationBuckets,
		}, []string{"status"}),
		FileDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "file_downloads_total",
			Help: "Total number of file download requests",
		}, []string{"status"}),
		FileDownloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "file_download_duration_seconds",
			Help:    "File download request duration in seconds",
			Buckets: durationBuckets,
		}, []string{"status"}),
		DatabaseUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "database_up",
			Help: "1 when the last database health probe succeeded",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.LoginAttempts, m.LoginDuration,
		m.RegistrationAttempts, m.RegistrationDuration,
		m.FileDownloads, m.FileDownloadDuration,
		m.DatabaseUp,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records one outcome on a counter/histogram pair.
func Observe(counter *prometheus.CounterVec, hist *prometheus.HistogramVec, status string, start time.Time) {
	counter.WithLabelValues(status).Inc()
	hist.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
