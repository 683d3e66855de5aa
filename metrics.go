package adcmt

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Engine metrics. Collectors work unregistered, so the engine updates
// them unconditionally; call RegisterMetrics (or NewMonitor) to expose
// them.
var (
	metricExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcmt_exchanges_total",
			Help: "Command exchanges by final state.",
		},
		[]string{"state"},
	)

	metricTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adcmt_exchange_timeouts_total",
		Help: "Exchanges resolved as timed out.",
	})

	metricFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adcmt_engine_faults_total",
		Help: "Engine transitions into the faulted state.",
	})

	metricBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adcmt_bytes_written_total",
		Help: "Bytes written to the device.",
	})

	metricBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adcmt_bytes_read_total",
		Help: "Bytes read from the device.",
	})

	metricSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adcmt_samples_total",
		Help: "Measurement samples decoded.",
	})

	metricExchangeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "adcmt_exchange_duration_seconds",
		Help:    "Wall time of one command exchange.",
		Buckets: prometheus.DefBuckets,
	})
)

// RegisterMetrics registers the engine collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		metricExchanges,
		metricTimeouts,
		metricFaults,
		metricBytesWritten,
		metricBytesRead,
		metricSamples,
		metricExchangeDuration,
	} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// Monitor exposes the engine metrics over HTTP.
type Monitor struct {
	log logrus.FieldLogger
}

// NewMonitor registers the collectors with the default registry.
func NewMonitor(log logrus.FieldLogger) (*Monitor, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	return &Monitor{log: log}, nil
}

// StartMetricsServer serves /metrics and /health on the given port.
func (m *Monitor) StartMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	m.log.Infof("metrics server listening on %s", addr)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.log.Errorf("metrics server: %v", err)
		}
	}()
}
