package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records pipeline outcomes. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	placements *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	tiles      prometheus.Histogram
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetslicer",
			Name:      "placements_total",
			Help:      "Placements by outcome and failure reason.",
		}, []string{"outcome", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assetslicer",
			Name:      "placement_duration_seconds",
			Help:      "Wall time of a placement, from planning to the final node.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 20},
		}, []string{"outcome"}),
		tiles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assetslicer",
			Name:      "composite_tiles",
			Help:      "Tiles per assembled composite.",
			Buckets:   prometheus.LinearBuckets(2, 2, 16),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.placements, m.duration, m.tiles)
	}
	return m
}

func (m *Metrics) observe(res Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(string(res.Outcome), res.Reason).Inc()
	m.duration.WithLabelValues(string(res.Outcome)).Observe(elapsed.Seconds())
	if res.Outcome == OutcomeComposite {
		m.tiles.Observe(float64(res.Tiles))
	}
}
