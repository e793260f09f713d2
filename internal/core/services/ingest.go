package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/metaingest/internal/core/domain"
	"github.com/manthysbr/metaingest/internal/core/ports"
)

// Resource names posted to under /orgs/{orgId}/.
const (
	ResourceNodes = "nodes"
	ResourceEdges = "edges"
)

// IngestConfig holds the per-run settings the coordinator needs.
type IngestConfig struct {
	Source        string
	BatchSize     int
	DatasetFormat string
	ImageDigest   string
	LogsURL       string
}

// Plan describes how a dataset would be shipped.
type Plan struct {
	Nodes       int `json:"nodes"`
	Edges       int `json:"edges"`
	NodeBatches int `json:"nodeBatches"`
	EdgeBatches int `json:"edgeBatches"`
}

// Batches is the total number of requests the run would send.
func (p Plan) Batches() int {
	return p.NodeBatches + p.EdgeBatches
}

// IngestionRunner coordinates dataset loading, API calls and job tracking.
type IngestionRunner struct {
	logger    *slog.Logger
	cfg       IngestConfig
	store     ports.JobStore
	publisher ports.Publisher
	progress  *ProgressLogger
	loader    *DatasetLoader
	newJobID  func() domain.JobID
}

func NewIngestionRunner(logger *slog.Logger, cfg IngestConfig, store ports.JobStore, publisher ports.Publisher, progress *ProgressLogger) *IngestionRunner {
	if progress == nil {
		progress = NewProgressLogger(logger, nil, Budget{})
	}
	return &IngestionRunner{
		logger:    logger,
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		progress:  progress,
		loader:    NewDatasetLoader(cfg.DatasetFormat),
		newJobID: func() domain.JobID {
			return domain.JobID(uuid.New().String())
		},
	}
}

// Run ships the dataset at path and returns the finalized job. The job is
// queued, then started, then completed exactly once.
// A *domain.DatasetError means no job was created; a *domain.IngestionError
// means the job exists and was finalized as failed.
func (r *IngestionRunner) Run(ctx context.Context, path string) (domain.JobRecord, error) {
	if r.cfg.BatchSize <= 0 {
		return domain.JobRecord{}, &domain.ConfigError{Msg: "Batch size must be greater than zero"}
	}

	dataset, err := r.loader.Load(path)
	if err != nil {
		return domain.JobRecord{}, err
	}

	jobID := r.newJobID()
	opts := domain.JobOptions{
		ImageDigest: r.cfg.ImageDigest,
		LogsURL:     r.cfg.LogsURL,
	}
	if _, err := r.store.Queue(ctx, jobID, r.cfg.Source, opts); err != nil {
		return domain.JobRecord{}, fmt.Errorf("queue job: %w", err)
	}
	job, err := r.store.Start(ctx, jobID, r.cfg.Source, opts)
	if err != nil {
		return r.fail(ctx, jobID, domain.Metrics{}, fmt.Errorf("start job: %w", err))
	}
	r.logger.Info("ingest.start",
		"job_id", job.ID,
		"source", job.Source,
		"nodes", len(dataset.Nodes),
		"edges", len(dataset.Edges),
		"batch_size", r.cfg.BatchSize,
	)

	start := time.Now()
	metrics := domain.Metrics{
		domain.MetricNodesAccepted: 0,
		domain.MetricEdgesAccepted: 0,
		domain.MetricBatches:       0,
	}

	if err := r.ship(ctx, job.ID, dataset, metrics); err != nil {
		metrics[domain.MetricDurationSeconds] = roundSeconds(time.Since(start))
		return r.fail(ctx, job.ID, metrics, err)
	}

	elapsed := time.Since(start)
	metrics[domain.MetricDurationSeconds] = roundSeconds(elapsed)

	final, err := r.store.Complete(context.WithoutCancel(ctx), job.ID, domain.JobStatusSucceeded, metrics, r.cfg.LogsURL)
	if err != nil {
		return r.fail(ctx, job.ID, metrics, fmt.Errorf("complete job: %w", err))
	}

	r.progress.Throughput(metrics.Int(domain.MetricNodesAccepted)+metrics.Int(domain.MetricEdgesAccepted), elapsed)
	r.logger.Info("ingest.complete",
		"job_id", final.ID,
		"status", final.Status,
		"nodes", metrics.Int(domain.MetricNodesAccepted),
		"edges", metrics.Int(domain.MetricEdgesAccepted),
		"batches", metrics.Int(domain.MetricBatches),
	)
	return final, nil
}

// Plan validates the dataset and reports the batches a run would send.
// Nothing is sent and no job is recorded.
func (r *IngestionRunner) Plan(ctx context.Context, path string) (Plan, error) {
	if r.cfg.BatchSize <= 0 {
		return Plan{}, &domain.ConfigError{Msg: "Batch size must be greater than zero"}
	}

	dataset, err := r.loader.Load(path)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Nodes:       len(dataset.Nodes),
		Edges:       len(dataset.Edges),
		NodeBatches: batchCount(len(dataset.Nodes), r.cfg.BatchSize),
		EdgeBatches: batchCount(len(dataset.Edges), r.cfg.BatchSize),
	}
	r.logger.Info("ingest.planned",
		"nodes", plan.Nodes,
		"edges", plan.Edges,
		"batches", plan.Batches(),
	)
	return plan, nil
}

// ship sends nodes then edges. Metrics are updated after every batch so a
// failure leaves the counts of the batches that completed.
func (r *IngestionRunner) ship(ctx context.Context, jobID domain.JobID, dataset domain.Dataset, metrics domain.Metrics) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &domain.IngestionError{
				JobID: jobID,
				Msg:   "unexpected failure while shipping",
				Err:   fmt.Errorf("panic: %v", p),
			}
		}
	}()

	nodes := make([]domain.Attribution, len(dataset.Nodes))
	for i := range dataset.Nodes {
		n := dataset.Nodes[i]
		nodes[i] = &n
	}
	if err := r.shipCollection(ctx, jobID, ResourceNodes, nodes, metrics, domain.MetricNodesAccepted); err != nil {
		return err
	}

	edges := make([]domain.Attribution, len(dataset.Edges))
	for i := range dataset.Edges {
		e := dataset.Edges[i]
		edges[i] = &e
	}
	return r.shipCollection(ctx, jobID, ResourceEdges, edges, metrics, domain.MetricEdgesAccepted)
}

func (r *IngestionRunner) shipCollection(ctx context.Context, jobID domain.JobID, resource string, items []domain.Attribution, metrics domain.Metrics, acceptedKey string) error {
	for _, batch := range batched(items, r.cfg.BatchSize) {
		payload := make([]any, len(batch))
		for i, item := range batch {
			item.Attribute(r.cfg.Source)
			payload[i] = item
		}

		sent := time.Now()
		status, err := r.publisher.Publish(ctx, resource, ports.Batch{Items: payload, JobID: jobID})
		if err != nil {
			return &domain.IngestionError{
				JobID: jobID,
				Msg:   fmt.Sprintf("%s request failed", resource),
				Err:   err,
			}
		}
		metrics[domain.MetricBatches]++
		r.progress.Batch(resource, len(batch), status, time.Since(sent))

		if status >= 400 {
			return &domain.IngestionError{
				JobID: jobID,
				Msg:   fmt.Sprintf("%s request failed with status %d", resource, status),
			}
		}
		metrics[acceptedKey] += float64(len(batch))
	}
	return nil
}

// fail finalizes the job as failed and returns the error as an
// *domain.IngestionError.
func (r *IngestionRunner) fail(ctx context.Context, jobID domain.JobID, metrics domain.Metrics, cause error) (domain.JobRecord, error) {
	var ingestErr *domain.IngestionError
	if !errors.As(cause, &ingestErr) {
		ingestErr = &domain.IngestionError{JobID: jobID, Msg: "unexpected ingestion failure", Err: cause}
	}

	job, err := r.store.Complete(context.WithoutCancel(ctx), jobID, domain.JobStatusFailed, metrics, r.cfg.LogsURL)
	if err != nil {
		r.logger.Error("failed to finalize job", "job_id", jobID, "error", err)
		job = domain.JobRecord{ID: jobID, Source: r.cfg.Source, Status: domain.JobStatusFailed, Metrics: metrics.Clone()}
	}

	r.logger.Error("ingest.failed",
		"job_id", jobID,
		"nodes", metrics.Int(domain.MetricNodesAccepted),
		"edges", metrics.Int(domain.MetricEdgesAccepted),
		"batches", metrics.Int(domain.MetricBatches),
		"error", ingestErr,
	)
	return job, ingestErr
}

// batched splits items into contiguous slices of at most size elements.
func batched[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, batchCount(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func batchCount(n, size int) int {
	if n == 0 {
		return 0
	}
	return (n + size - 1) / size
}
