// Package metrics exports agent telemetry to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulsecam/pulsecam-agent/internal/presage"
)

const namespace = "pulsecam"

// Collector implements presage.Observer and measurement.Observer.
type Collector struct {
	uploadDuration prometheus.Histogram
	uploadBytes    prometheus.Counter
	uploadErrors   *prometheus.CounterVec
	chunksTotal    *prometheus.CounterVec
	retrieveTotal  *prometheus.CounterVec
	pollDuration   prometheus.Histogram
	pollAttempts   prometheus.Histogram
	measurements   *prometheus.CounterVec
	lastHeartRate  prometheus.Gauge
}

// New registers the agent metrics with reg, or the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Latency of the full upload handshake.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Video bytes successfully uploaded.",
		}),
		uploadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_errors_total",
			Help:      "Failed uploads by error kind.",
		}, []string{"kind"}),
		chunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunk transfers by result.",
		}, []string{"result"}),
		retrieveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieve_requests_total",
			Help:      "Retrieve-data responses by outcome.",
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time spent waiting for analysis results.",
			Buckets:   []float64{2, 5, 10, 20, 40, 60, 120, 300},
		}),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Retrieve attempts per poll.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		measurements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Completed measurements by outcome.",
		}, []string{"outcome"}),
		lastHeartRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_heart_rate_bpm",
			Help:      "Heart rate of the most recent successful measurement.",
		}),
	}

	collectors := []prometheus.Collector{
		c.uploadDuration, c.uploadBytes, c.uploadErrors, c.chunksTotal,
		c.retrieveTotal, c.pollDuration, c.pollAttempts, c.measurements, c.lastHeartRate,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) RecordUpload(duration time.Duration, sizeBytes int64, err error) {
	if c == nil {
		return
	}
	c.uploadDuration.Observe(duration.Seconds())
	if err != nil {
		c.uploadErrors.WithLabelValues(presage.Kind(err)).Inc()
		return
	}
	c.uploadBytes.Add(float64(sizeBytes))
}

func (c *Collector) RecordChunk(_ int, _ int, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.chunksTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRetrieve(outcome presage.OutcomeKind) {
	if c == nil {
		return
	}
	c.retrieveTotal.WithLabelValues(outcome.String()).Inc()
}

func (c *Collector) RecordPoll(duration time.Duration, attempts int, _ error) {
	if c == nil {
		return
	}
	c.pollDuration.Observe(duration.Seconds())
	c.pollAttempts.Observe(float64(attempts))
}

func (c *Collector) RecordMeasurement(bpm int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.measurements.WithLabelValues(presage.Kind(err)).Inc()
		return
	}
	c.measurements.WithLabelValues("ok").Inc()
	c.lastHeartRate.Set(float64(bpm))
}
