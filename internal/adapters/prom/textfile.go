package prom

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/manthysbr/metaingest/internal/core/domain"
)

const namespace = "metaingest"

// Metric names written to the textfile.
const (
	MetricNodesAccepted   = "nodes_accepted"
	MetricEdgesAccepted   = "edges_accepted"
	MetricBatches         = "batches"
	MetricDurationSeconds = "duration_seconds"
	MetricSucceeded       = "succeeded"
	MetricCompletedTime   = "completed_timestamp_seconds"
)

// JobCollector gauges for one finished job, labelled by source.
type JobCollector struct {
	registry *prometheus.Registry
	gauges   map[string]prometheus.Gauge
}

func NewJobCollector(source string) *JobCollector {
	c := &JobCollector{
		registry: prometheus.NewRegistry(),
		gauges:   map[string]prometheus.Gauge{},
	}
	help := map[string]string{
		MetricNodesAccepted:   "Nodes accepted by the metadata API in the last job.",
		MetricEdgesAccepted:   "Edges accepted by the metadata API in the last job.",
		MetricBatches:         "Batches sent in the last job.",
		MetricDurationSeconds: "Wall-clock duration of the last job.",
		MetricSucceeded:       "1 if the last job succeeded, 0 otherwise.",
		MetricCompletedTime:   "Unix time the last job completed.",
	}
	for name, h := range help {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "job",
			Name:        name,
			Help:        h,
			ConstLabels: prometheus.Labels{"source": source},
		})
		c.registry.MustRegister(g)
		c.gauges[name] = g
	}
	return c
}

// Observe copies the job's final metrics into the gauges.
func (c *JobCollector) Observe(job domain.JobRecord) {
	c.gauges[MetricNodesAccepted].Set(job.Metrics[domain.MetricNodesAccepted])
	c.gauges[MetricEdgesAccepted].Set(job.Metrics[domain.MetricEdgesAccepted])
	c.gauges[MetricBatches].Set(job.Metrics[domain.MetricBatches])
	c.gauges[MetricDurationSeconds].Set(job.Metrics[domain.MetricDurationSeconds])
	if job.Status == domain.JobStatusSucceeded {
		c.gauges[MetricSucceeded].Set(1)
	} else {
		c.gauges[MetricSucceeded].Set(0)
	}
	if job.CompletedAt != nil {
		c.gauges[MetricCompletedTime].Set(float64(job.CompletedAt.Unix()))
	}
}

// WriteTextfile writes the gauges in the node_exporter textfile format.
func (c *JobCollector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// WriteJobMetrics observes job and writes it to path in one step.
func WriteJobMetrics(path string, job domain.JobRecord) error {
	c := NewJobCollector(job.Source)
	c.Observe(job)
	return c.WriteTextfile(path)
}
