package domain

import (
	"errors"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further writes follow s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Metric keys recorded by the ingestion coordinator.
const (
	MetricNodesAccepted   = "nodesAccepted"
	MetricEdgesAccepted   = "edgesAccepted"
	MetricBatches         = "batches"
	MetricDurationSeconds = "durationSeconds"
)

// Metrics is the open numeric mapping persisted with a job.
type Metrics map[string]float64

// Clone returns an independent copy, never nil.
func (m Metrics) Clone() Metrics {
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Int returns the metric truncated to an integer, zero when absent.
func (m Metrics) Int(key string) int {
	return int(m[key])
}

// JobRecord is one ingestion run's tracked lifecycle
type JobRecord struct {
	ID          JobID      `json:"job_id"`
	Source      string     `json:"source"`
	Status      JobStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Metrics     Metrics    `json:"metrics"`
	ImageDigest *string    `json:"image_digest,omitempty"`
	LogsURL     *string    `json:"logs_url,omitempty"`
}

// JobOptions carries the optional attributes attached when a job is opened.
// Empty strings mean "not provided".
type JobOptions struct {
	ImageDigest string
	LogsURL     string
}

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobFinalized     = errors.New("job already finalized")
	ErrInvalidJobStatus = errors.New("invalid job status")
)
