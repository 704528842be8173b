// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recognition outcomes.
const (
	OutcomeMatched       = "matched"
	OutcomeDuplicate     = "duplicate"
	OutcomeNoFace        = "no_face"
	OutcomeMultipleFaces = "multiple_faces"
	OutcomeNotRecognized = "not_recognized"
	OutcomeBlocked       = "blocked"
	OutcomeInvalidImage  = "invalid_image"
	OutcomeError         = "error"
)

// Enrollment outcomes.
const (
	OutcomeEnrolled = "enrolled"
	OutcomeExists   = "exists"
	OutcomeInvalid  = "invalid"
)

var (
	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_recognitions_total",
		Help: "Attendance recognition attempts by outcome.",
	}, []string{"outcome"})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_enrollments_total",
		Help: "Student enrollment attempts by outcome.",
	}, []string{"outcome"})

	IdentifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_identify_duration_seconds",
		Help:    "Time spent extracting and matching a face.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	EnrolledTemplates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attendance_enrolled_templates",
		Help: "Templates scanned by the most recent identification.",
	})

	PhotoArchives = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_photo_archives_total",
		Help: "Enrollment photo archive jobs by result.",
	}, []string{"result"})
)
