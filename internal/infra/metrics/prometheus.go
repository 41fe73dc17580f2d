package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framelift_events_processed_total",
		Help: "Total number of pipeline events processed, by stage and outcome",
	}, []string{"stage", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framelift_stage_duration_seconds",
		Help:    "Duration of pipeline stage operations",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage", "operation"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framelift_frames_extracted_total",
		Help: "Total number of frames extracted across all uploads",
	})

	ArchiveBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framelift_archive_bytes_total",
		Help: "Total bytes of archives uploaded",
	})

	ActiveWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "framelift_active_workers",
		Help: "Number of workers currently processing events",
	}, []string{"stage"})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framelift_retries_total",
		Help: "Total number of retries scheduled, by stage and attempt",
	}, []string{"stage", "attempt"})

	DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framelift_dead_letters_total",
		Help: "Total number of events parked in the dead-letter queue",
	}, []string{"stage"})
)
