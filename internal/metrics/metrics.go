// Package metrics exposes per-run Prometheus metrics and pushes them to a
// Pushgateway, since a single pass exits before any scrape could reach it.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"detectedits-go/internal/detect"
)

// DefaultJob is the Pushgateway job name used when none is configured.
const DefaultJob = "detectedits"

// Recorder holds the metrics of one run in its own registry.
type Recorder struct {
	reg *prometheus.Registry

	RecordsDetected prometheus.Counter
	Notifications   *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	Watermark       prometheus.Gauge
	RunState        *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with every metric registered.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		reg: reg,

		RecordsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "detectedits_records_detected_total",
			Help: "Records created since the previous watermark",
		}),

		// status is sent or failed
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "detectedits_notifications_total",
			Help: "Notification sends by outcome",
		}, []string{"status"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "detectedits_run_duration_seconds",
			Help:    "Wall time of one pipeline pass",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		Watermark: factory.NewGauge(prometheus.GaugeOpts{
			Name: "detectedits_watermark_timestamp_seconds",
			Help: "Persisted watermark as a unix timestamp",
		}),

		// 1 for the state the run ended in, 0 for every other state
		RunState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "detectedits_run_state",
			Help: "Terminal state of the last run",
		}, []string{"state"}),
	}
}

// Observe records the outcome of a finished run.
func (r *Recorder) Observe(res *detect.RunResult) {
	r.RecordsDetected.Add(float64(res.Records))
	r.Notifications.WithLabelValues("sent").Add(float64(res.Sent))
	r.Notifications.WithLabelValues("failed").Add(float64(res.Failed))

	if !res.FinishedAt.IsZero() {
		r.RunDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}
	switch {
	case res.After != nil:
		r.Watermark.Set(res.After.Timestamp)
	case res.Before != nil:
		r.Watermark.Set(res.Before.Timestamp)
	}

	for _, s := range detect.AllStates {
		v := 0.0
		if s == res.State {
			v = 1
		}
		r.RunState.WithLabelValues(string(s)).Set(v)
	}
}

// Push replaces the job's metric group on the Pushgateway at url.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if job == "" {
		job = DefaultJob
	}
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
