package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type IndexMetrics struct {
	acquireTotal    *prometheus.CounterVec
	acquireDuration *prometheus.HistogramVec
	indexRecords    *prometheus.GaugeVec
}

// NewIndexMetrics registers index acquisition collectors on reg.
func NewIndexMetrics(reg prometheus.Registerer) *IndexMetrics {
	acquireTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "acquisitions_total",
			Help:      "Total index acquisitions by result (loaded, rebuilt, error).",
		},
		[]string{"service", "tool", "result"},
	)
	acquireDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "acquisition_duration_seconds",
			Help:      "Index acquisition duration in seconds by result.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 180, 600},
		},
		[]string{"service", "tool", "result"},
	)
	indexRecords := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "records",
			Help:      "Number of chunk records in the loaded index.",
		},
		[]string{"service", "tool"},
	)

	reg.MustRegister(acquireTotal, acquireDuration, indexRecords)

	return &IndexMetrics{
		acquireTotal:    acquireTotal,
		acquireDuration: acquireDuration,
		indexRecords:    indexRecords,
	}
}

func (m *IndexMetrics) ObserveAcquisition(service, tool string, acquired *domain.AcquiredIndex, duration time.Duration, err error) {
	result := "loaded"
	switch {
	case err != nil:
		result = "error"
	case acquired != nil && acquired.Rebuilt:
		result = "rebuilt"
	}

	m.acquireTotal.WithLabelValues(service, tool, result).Inc()
	m.acquireDuration.WithLabelValues(service, tool, result).Observe(duration.Seconds())
	if err == nil && acquired != nil && acquired.Index != nil {
		m.indexRecords.WithLabelValues(service, tool).Set(float64(len(acquired.Index.Records)))
	}
}
