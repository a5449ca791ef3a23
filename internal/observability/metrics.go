// Package observability owns the prometheus collectors exported on /metrics.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	completionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upkeep",
		Subsystem: "tracker",
		Name:      "completions_total",
		Help:      "Number of completions recorded, labeled by section and whether the activity was created.",
	}, []string{"section", "created"})

	lastCompletionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "upkeep",
		Subsystem: "tracker",
		Name:      "last_completion_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completion stored per section.",
	}, []string{"section"})

	dueGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "upkeep",
		Subsystem: "tracker",
		Name:      "activities_due",
		Help:      "Number of due activities per section as of the latest query.",
	}, []string{"section"})

	storageErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upkeep",
		Subsystem: "storage",
		Name:      "errors_total",
		Help:      "Number of section storage failures, labeled by section and operation.",
	}, []string{"section", "op"})

	loadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "upkeep",
		Subsystem: "storage",
		Name:      "section_load_duration_seconds",
		Help:      "Time spent loading a section from storage.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"section"})

	eventsPublishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "upkeep",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Number of completion events published.",
	})

	eventsFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "upkeep",
		Subsystem: "events",
		Name:      "failed_total",
		Help:      "Number of completion events that could not be published.",
	})
)

func init() {
	prometheus.MustRegister(
		completionsCounter,
		lastCompletionGauge,
		dueGauge,
		storageErrorCounter,
		loadDuration,
		eventsPublishedCounter,
		eventsFailedCounter,
	)
}

// RecordCompletion counts a stored completion and moves the section watermark.
func RecordCompletion(section string, created bool, ts time.Time) {
	completionsCounter.WithLabelValues(section, strconv.FormatBool(created)).Inc()
	if ts.IsZero() {
		return
	}
	lastCompletionGauge.WithLabelValues(section).Set(float64(ts.Unix()))
}

// RecordDue sets the due gauge for a section.
func RecordDue(section string, due int) {
	dueGauge.WithLabelValues(section).Set(float64(due))
}

// RecordStorageError counts a failed load or save.
func RecordStorageError(section, op string) {
	storageErrorCounter.WithLabelValues(section, op).Inc()
}

// ObserveLoad records how long a section load took.
func ObserveLoad(section string, d time.Duration) {
	loadDuration.WithLabelValues(section).Observe(d.Seconds())
}

// RecordEventPublished counts a delivered completion event.
func RecordEventPublished() {
	eventsPublishedCounter.Inc()
}

// RecordEventFailed counts a completion event that was dropped.
func RecordEventFailed() {
	eventsFailedCounter.Inc()
}
