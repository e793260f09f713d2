package ports

import (
	"context"

	"github.com/manthysbr/metaingest/internal/core/domain"
)

// JobStore abstracts the persistent job history (DuckDB)
type JobStore interface {
	// Queue inserts or replaces a job in the queued state with empty metrics.
	Queue(ctx context.Context, id domain.JobID, source string, opts domain.JobOptions) (domain.JobRecord, error)

	// Start marks a job running. An existing job keeps its started_at and metrics.
	Start(ctx context.Context, id domain.JobID, source string, opts domain.JobOptions) (domain.JobRecord, error)

	// Complete writes the final status and replaces metrics wholesale.
	// An empty logsURL keeps the stored one.
	Complete(ctx context.Context, id domain.JobID, status domain.JobStatus, metrics domain.Metrics, logsURL string) (domain.JobRecord, error)

	// Get retrieves a job by ID.
	Get(ctx context.Context, id domain.JobID) (domain.JobRecord, error)

	// List returns all jobs, most recently started first.
	List(ctx context.Context) ([]domain.JobRecord, error)
}

// Publisher abstracts the metadata API (HTTP)
type Publisher interface {
	// Publish posts one batch to the named resource collection and returns
	// the HTTP status code. Transport failures are returned as errors.
	Publish(ctx context.Context, resource string, batch Batch) (int, error)
}

// Batch is the request body for one publish call.
type Batch struct {
	Items []any        `json:"items"`
	JobID domain.JobID `json:"jobId"`
}

// DigestResolver maps an image reference to its content digest.
type DigestResolver interface {
	ResolveDigest(ctx context.Context, ref string) (string, error)
}

// ResourceSampler reports the resident set size of the current process in MB.
type ResourceSampler interface {
	RSSMegabytes() (float64, error)
}
