package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// These are package-level, registered once with the default registerer
// (the promauto pattern used throughout xg2g's internal/metrics package),
// and shared across every Scheduler instance in the process — a test that
// builds several schedulers must not re-register the same metric name.
var (
	videoFramesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msecore_scheduler_video_frames_submitted_total",
		Help: "Video frames submitted to the decoder.",
	})
	videoFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msecore_scheduler_video_frames_dropped_total",
		Help: "Decoded video frames dropped as stale or late.",
	})
	audioFramesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msecore_scheduler_audio_frames_submitted_total",
		Help: "Audio frames submitted to the decoder.",
	})
	audioFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msecore_scheduler_audio_frames_dropped_total",
		Help: "Decoded audio frames dropped as stale or late.",
	})
)

// metricsSet is the per-Scheduler handle onto the shared package-level
// counters (§4.6 "Decode queue model" submit/drop bookkeeping).
type metricsSet struct {
	videoSubmitted prometheus.Counter
	videoDropped   prometheus.Counter
	audioSubmitted prometheus.Counter
	audioDropped   prometheus.Counter
}

func newMetricsSet() *metricsSet {
	return &metricsSet{
		videoSubmitted: videoFramesSubmitted,
		videoDropped:   videoFramesDropped,
		audioSubmitted: audioFramesSubmitted,
		audioDropped:   audioFramesDropped,
	}
}
