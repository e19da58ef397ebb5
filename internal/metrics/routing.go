// Package metrics provides Prometheus metrics for the routing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camswitch",
		Subsystem: "router",
		Name:      "frames_routed_total",
		Help:      "Frames forwarded to the virtual output, by source",
	}, []string{"source"})

	switches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camswitch",
		Subsystem: "router",
		Name:      "switches_total",
		Help:      "Switch commands by result (committed, rolled_back, busy, rejected)",
	}, []string{"result"})

	switchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "camswitch",
		Subsystem: "router",
		Name:      "switch_duration_seconds",
		Help:      "Time from switch command to commit or rollback",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	sourceUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camswitch",
		Subsystem: "capture",
		Name:      "source_up",
		Help:      "Whether a capture source is delivering frames (1) or not (0)",
	}, []string{"source"})

	sourceFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camswitch",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames read from a capture source",
	}, []string{"source"})

	previewDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camswitch",
		Subsystem: "preview",
		Name:      "dropped_frames_total",
		Help:      "Preview frames replaced before being read",
	}, []string{"source"})

	outputWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camswitch",
		Subsystem: "output",
		Name:      "writes_total",
		Help:      "Successful frame writes to the virtual output",
	})

	outputErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camswitch",
		Subsystem: "output",
		Name:      "write_errors_total",
		Help:      "Failed frame writes to the virtual output",
	})

	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camswitch",
		Subsystem: "supervisor",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnect attempts per source",
	}, []string{"source"})
)

// IncFramesRouted counts one frame forwarded to the output for a source.
func IncFramesRouted(source string) {
	framesRouted.WithLabelValues(source).Inc()
}

// IncSwitch counts one settled switch command by result.
func IncSwitch(result string) {
	switches.WithLabelValues(result).Inc()
}

// ObserveSwitchDuration records how long a switch took to settle.
func ObserveSwitchDuration(seconds float64) {
	switchDuration.Observe(seconds)
}

// SetSourceUp records whether a source is delivering frames.
func SetSourceUp(source string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	sourceUp.WithLabelValues(source).Set(v)
}

// IncSourceFrames counts one frame read from a source.
func IncSourceFrames(source string) {
	sourceFrames.WithLabelValues(source).Inc()
}

// IncPreviewDrops counts preview frames dropped for a source.
func IncPreviewDrops(source string, n uint64) {
	previewDrops.WithLabelValues(source).Add(float64(n))
}

// IncOutputWrites counts one successful output write.
func IncOutputWrites() {
	outputWrites.Inc()
}

// IncOutputErrors counts one failed output write.
func IncOutputErrors() {
	outputErrors.Inc()
}

// IncReconnects counts one reconnect attempt for a source.
func IncReconnects(source string) {
	reconnects.WithLabelValues(source).Inc()
}
