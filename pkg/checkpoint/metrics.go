package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckpointWrites tracks RecordAttempt calls by backend and result
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_checkpoint_writes_total",
			Help: "Total number of checkpoint writes",
		},
		[]string{"backend", "result"}, // "sqlite"|"redis", "accepted"|"stale"|"error"
	)

	// PayloadBytes tracks the size of stored raw payloads
	PayloadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grid_checkpoint_payload_bytes",
			Help:    "Size of raw series payloads written to the checkpoint store",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
		[]string{"backend"},
	)
)

func observeWrite(backend string, accepted bool, err error, payload int) {
	switch {
	case err != nil:
		CheckpointWrites.WithLabelValues(backend, "error").Inc()
	case !accepted:
		CheckpointWrites.WithLabelValues(backend, "stale").Inc()
	default:
		CheckpointWrites.WithLabelValues(backend, "accepted").Inc()
		if payload > 0 {
			PayloadBytes.WithLabelValues(backend).Observe(float64(payload))
		}
	}
}
