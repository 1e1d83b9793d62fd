// Package metrics records per-set outcomes for the node_exporter textfile
// collector. jabs is a short-lived cron process, so there is nothing to
// scrape: instead, when a metrics file is configured, the controller writes
// the gauges out once at the end of the invocation and node_exporter picks
// them up from disk.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder accumulates per-set gauges over one invocation.
type Recorder struct {
	registry *prometheus.Registry

	setSuccess  *prometheus.GaugeVec
	setDuration *prometheus.GaugeVec
	lastRun     *prometheus.GaugeVec
}

// New returns an empty Recorder.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.setSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jabs_set_success",
		Help: "Whether the last execution of the backup set succeeded (1) or failed (0).",
	}, []string{"set"})
	r.setDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jabs_set_duration_seconds",
		Help: "Wall-clock duration of the last execution of the backup set.",
	}, []string{"set"})
	r.lastRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jabs_last_run_timestamp_seconds",
		Help: "Unix timestamp of the last execution of the backup set.",
	}, []string{"set"})

	r.registry.MustRegister(r.setSuccess, r.setDuration, r.lastRun)
	return r
}

// RecordSet stores the outcome of one executed set.
func (r *Recorder) RecordSet(name string, success bool, duration time.Duration, when time.Time) {
	v := 0.0
	if success {
		v = 1.0
	}
	r.setSuccess.WithLabelValues(name).Set(v)
	r.setDuration.WithLabelValues(name).Set(duration.Seconds())
	r.lastRun.WithLabelValues(name).Set(float64(when.Unix()))
}

// WriteFile dumps the accumulated gauges in text exposition format,
// atomically replacing path.
func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: cannot write %s: %w", path, err)
	}
	return nil
}
