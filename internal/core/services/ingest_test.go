package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/metaingest/internal/core/domain"
	"github.com/manthysbr/metaingest/internal/core/ports"
)

// memStore is an in-memory ports.JobStore.
type memStore struct {
	mu          sync.Mutex
	jobs        map[domain.JobID]domain.JobRecord
	ops         []string
	starts      []domain.JobOptions
	startErr    error
	completeErr error
}

func newMemStore() *memStore {
	return &memStore{jobs: map[domain.JobID]domain.JobRecord{}}
}

func (s *memStore) Queue(_ context.Context, id domain.JobID, source string, opts domain.JobOptions) (domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "queue")
	job := domain.JobRecord{ID: id, Source: source, Status: domain.JobStatusQueued, StartedAt: time.Now().UTC(), Metrics: domain.Metrics{}}
	if opts.ImageDigest != "" {
		job.ImageDigest = &opts.ImageDigest
	}
	s.jobs[id] = job
	return job, nil
}

func (s *memStore) Start(_ context.Context, id domain.JobID, source string, opts domain.JobOptions) (domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "start")
	s.starts = append(s.starts, opts)
	if s.startErr != nil {
		return domain.JobRecord{}, s.startErr
	}
	job, ok := s.jobs[id]
	if !ok {
		job = domain.JobRecord{ID: id, StartedAt: time.Now().UTC(), Metrics: domain.Metrics{}}
	}
	job.Source = source
	job.Status = domain.JobStatusRunning
	job.CompletedAt = nil
	if opts.ImageDigest != "" {
		job.ImageDigest = &opts.ImageDigest
	}
	s.jobs[id] = job
	return job, nil
}

func (s *memStore) Complete(_ context.Context, id domain.JobID, status domain.JobStatus, metrics domain.Metrics, _ string) (domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "complete:"+string(status))
	if s.completeErr != nil && status == domain.JobStatusSucceeded {
		return domain.JobRecord{}, s.completeErr
	}
	job, ok := s.jobs[id]
	if !ok {
		return domain.JobRecord{}, domain.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return domain.JobRecord{}, domain.ErrJobFinalized
	}
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.Metrics = metrics.Clone()
	s.jobs[id] = job
	return job, nil
}

func (s *memStore) Get(_ context.Context, id domain.JobID) (domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.JobRecord{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *memStore) List(context.Context) ([]domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.JobRecord, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}

// sentBatch is one captured request as it would appear on the wire.
type sentBatch struct {
	Resource string
	Items    []map[string]any
	JobID    string
}

// recordingPublisher captures every batch and answers with a fixed status
// per resource (202 when unset).
type recordingPublisher struct {
	status map[string]int
	sent   []sentBatch
}

func (p *recordingPublisher) Publish(_ context.Context, resource string, batch ports.Batch) (int, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return 0, err
	}
	var body struct {
		Items []map[string]any `json:"items"`
		JobID string           `json:"jobId"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, err
	}
	p.sent = append(p.sent, sentBatch{Resource: resource, Items: body.Items, JobID: body.JobID})
	if code, ok := p.status[resource]; ok {
		return code, nil
	}
	return 202, nil
}

func (p *recordingPublisher) count(resource string) int {
	n := 0
	for _, b := range p.sent {
		if b.Resource == resource {
			n++
		}
	}
	return n
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, resource string, batch ports.Batch) (int, error) {
	args := m.Called(ctx, resource, batch)
	return args.Int(0), args.Error(1)
}

func datasetJSON(nodes, edges int) string {
	var b strings.Builder
	b.WriteString(`{"nodes": [`)
	for i := 0; i < nodes; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"id": "n%d", "type": "table", "properties": {}}`, i)
	}
	b.WriteString(`], "edges": [`)
	for i := 0; i < edges; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"id": "e%d", "sourceId": "n0", "targetId": "n1", "type": "link", "properties": {}}`, i)
	}
	b.WriteString(`]}`)
	return b.String()
}

func newTestRunner(cfg IngestConfig, store ports.JobStore, pub ports.Publisher) *IngestionRunner {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if cfg.DatasetFormat == "" {
		cfg.DatasetFormat = "json"
	}
	if cfg.Source == "" {
		cfg.Source = "cli"
	}
	return NewIngestionRunner(logger, cfg, store, pub, nil)
}

func TestIngestionRunner_SingleNode(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	runner := newTestRunner(IngestConfig{BatchSize: 500}, store, pub)

	path := writeDataset(t, "one.json", `{"nodes": [{"id": "n1", "type": "table", "properties": {"name": "orders"}}]}`)
	job, err := runner.Run(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, pub.sent, 1)
	batch := pub.sent[0]
	assert.Equal(t, ResourceNodes, batch.Resource)
	assert.Equal(t, string(job.ID), batch.JobID)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, "cli", batch.Items[0]["createdBy"])
	assert.Equal(t, "cli", batch.Items[0]["updatedBy"])
	assert.Equal(t, map[string]any{"name": "orders"}, batch.Items[0]["properties"])
	assert.Zero(t, pub.count(ResourceEdges))

	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 1, job.Metrics.Int(domain.MetricNodesAccepted))
	assert.Equal(t, 0, job.Metrics.Int(domain.MetricEdgesAccepted))
	assert.Equal(t, 1, job.Metrics.Int(domain.MetricBatches))
	assert.Contains(t, job.Metrics, domain.MetricDurationSeconds)

	stored, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, stored.Status)
}

func TestIngestionRunner_BatchCount(t *testing.T) {
	tests := []struct {
		nodes, edges, size int
	}{
		{nodes: 1, edges: 0, size: 500},
		{nodes: 5, edges: 3, size: 2},
		{nodes: 4, edges: 4, size: 4},
		{nodes: 0, edges: 7, size: 3},
		{nodes: 10, edges: 1, size: 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tt.nodes, tt.edges, tt.size), func(t *testing.T) {
			pub := &recordingPublisher{}
			runner := newTestRunner(IngestConfig{BatchSize: tt.size}, newMemStore(), pub)
			path := writeDataset(t, "ds.json", datasetJSON(tt.nodes, tt.edges))

			job, err := runner.Run(context.Background(), path)
			require.NoError(t, err)

			wantNodeBatches := batchCount(tt.nodes, tt.size)
			wantEdgeBatches := batchCount(tt.edges, tt.size)
			assert.Equal(t, wantNodeBatches, pub.count(ResourceNodes))
			assert.Equal(t, wantEdgeBatches, pub.count(ResourceEdges))
			assert.Equal(t, wantNodeBatches+wantEdgeBatches, job.Metrics.Int(domain.MetricBatches))
			assert.Equal(t, tt.nodes, job.Metrics.Int(domain.MetricNodesAccepted))
			assert.Equal(t, tt.edges, job.Metrics.Int(domain.MetricEdgesAccepted))

			// Nodes go first, in order, in contiguous batches.
			var ids []string
			for i, b := range pub.sent {
				if i < wantNodeBatches {
					assert.Equal(t, ResourceNodes, b.Resource)
				} else {
					assert.Equal(t, ResourceEdges, b.Resource)
				}
				assert.LessOrEqual(t, len(b.Items), tt.size)
				for _, item := range b.Items {
					ids = append(ids, item["id"].(string))
				}
			}
			require.Len(t, ids, tt.nodes+tt.edges)
			for i := 0; i < tt.nodes; i++ {
				assert.Equal(t, fmt.Sprintf("n%d", i), ids[i])
			}
			for i := 0; i < tt.edges; i++ {
				assert.Equal(t, fmt.Sprintf("e%d", i), ids[tt.nodes+i])
			}
		})
	}
}

func TestIngestionRunner_EmptyDatasetCreatesNoJob(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	runner := newTestRunner(IngestConfig{BatchSize: 10}, store, pub)

	path := writeDataset(t, "empty.json", `{"nodes": [], "edges": []}`)
	_, err := runner.Run(context.Background(), path)

	requireDatasetError(t, err)
	assert.Empty(t, pub.sent)
	jobs, _ := store.List(context.Background())
	assert.Empty(t, jobs)
}

func TestIngestionRunner_RejectsBatchSize(t *testing.T) {
	store := newMemStore()
	runner := newTestRunner(IngestConfig{BatchSize: 0}, store, &recordingPublisher{})

	_, err := runner.Run(context.Background(), writeDataset(t, "ds.json", datasetJSON(1, 0)))

	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	jobs, _ := store.List(context.Background())
	assert.Empty(t, jobs)
}

func TestIngestionRunner_EdgeFailureKeepsNodeMetrics(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{status: map[string]int{ResourceEdges: 500}}
	runner := newTestRunner(IngestConfig{BatchSize: 2}, store, pub)

	path := writeDataset(t, "ds.json", datasetJSON(3, 4))
	job, err := runner.Run(context.Background(), path)

	var ingestErr *domain.IngestionError
	require.True(t, errors.As(err, &ingestErr), "want IngestionError, got %v", err)
	assert.Equal(t, job.ID, ingestErr.JobID)
	assert.Contains(t, ingestErr.Error(), "500")

	// Shipping stops at the first failing edge batch.
	assert.Equal(t, 2, pub.count(ResourceNodes))
	assert.Equal(t, 1, pub.count(ResourceEdges))

	stored, getErr := store.Get(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 3, stored.Metrics.Int(domain.MetricNodesAccepted))
	assert.Equal(t, 0, stored.Metrics.Int(domain.MetricEdgesAccepted))
	assert.Equal(t, 3, stored.Metrics.Int(domain.MetricBatches))
}

func TestIngestionRunner_DecorationKeepsExplicitValues(t *testing.T) {
	pub := &recordingPublisher{}
	runner := newTestRunner(IngestConfig{BatchSize: 10, Source: "nightly"}, newMemStore(), pub)

	path := writeDataset(t, "ds.json", `{
  "nodes": [
    {"id": "a", "type": "t", "properties": {}, "createdBy": "alice"},
    {"id": "b", "type": "t", "properties": {}, "createdBy": "alice", "updatedBy": "carol"}
  ],
  "edges": [
    {"id": "e", "sourceId": "a", "targetId": "b", "type": "t", "properties": {}, "updatedBy": "bob"}
  ]
}`)
	_, err := runner.Run(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pub.sent, 2)

	nodes := pub.sent[0].Items
	assert.Equal(t, "alice", nodes[0]["createdBy"])
	assert.Equal(t, "alice", nodes[0]["updatedBy"])
	assert.Equal(t, "alice", nodes[1]["createdBy"])
	assert.Equal(t, "carol", nodes[1]["updatedBy"])

	edge := pub.sent[1].Items[0]
	assert.Equal(t, "nightly", edge["createdBy"])
	assert.Equal(t, "bob", edge["updatedBy"])
}

func TestIngestionRunner_TransportError(t *testing.T) {
	store := newMemStore()
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, ResourceNodes, mock.AnythingOfType("ports.Batch")).
		Return(0, errors.New("connection refused")).Once()
	runner := newTestRunner(IngestConfig{BatchSize: 10}, store, pub)

	job, err := runner.Run(context.Background(), writeDataset(t, "ds.json", datasetJSON(2, 2)))

	var ingestErr *domain.IngestionError
	require.True(t, errors.As(err, &ingestErr))
	assert.Contains(t, ingestErr.Error(), "connection refused")
	pub.AssertExpectations(t)

	stored, getErr := store.Get(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, 0, stored.Metrics.Int(domain.MetricBatches))
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(context.Context, string, ports.Batch) (int, error) {
	panic("boom")
}

func TestIngestionRunner_PanicFinalizesJob(t *testing.T) {
	store := newMemStore()
	runner := newTestRunner(IngestConfig{BatchSize: 10}, store, panickingPublisher{})

	job, err := runner.Run(context.Background(), writeDataset(t, "ds.json", datasetJSON(1, 0)))

	var ingestErr *domain.IngestionError
	require.True(t, errors.As(err, &ingestErr))
	assert.Contains(t, ingestErr.Error(), "boom")

	stored, getErr := store.Get(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
}

func TestIngestionRunner_CompleteFailureFailsJob(t *testing.T) {
	store := newMemStore()
	store.completeErr = errors.New("disk full")
	runner := newTestRunner(IngestConfig{BatchSize: 10}, store, &recordingPublisher{})

	job, err := runner.Run(context.Background(), writeDataset(t, "ds.json", datasetJSON(1, 0)))

	var ingestErr *domain.IngestionError
	require.True(t, errors.As(err, &ingestErr))
	assert.Contains(t, ingestErr.Error(), "disk full")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestIngestionRunner_AttachesJobOptions(t *testing.T) {
	store := newMemStore()
	runner := newTestRunner(IngestConfig{BatchSize: 10, ImageDigest: "sha256:abc", LogsURL: "https://logs/1"}, store, &recordingPublisher{})

	_, err := runner.Run(context.Background(), writeDataset(t, "ds.json", datasetJSON(1, 0)))
	require.NoError(t, err)

	require.Len(t, store.starts, 1)
	assert.Equal(t, domain.JobOptions{ImageDigest: "sha256:abc", LogsURL: "https://logs/1"}, store.starts[0])
}

func TestIngestionRunner_Plan(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	runner := newTestRunner(IngestConfig{BatchSize: 3}, store, pub)

	plan, err := runner.Plan(context.Background(), writeDataset(t, "ds.json", datasetJSON(7, 3)))
	require.NoError(t, err)

	assert.Equal(t, Plan{Nodes: 7, Edges: 3, NodeBatches: 3, EdgeBatches: 1}, plan)
	assert.Equal(t, 4, plan.Batches())
	assert.Empty(t, pub.sent)
	assert.Empty(t, store.ops)

	_, err = runner.Plan(context.Background(), writeDataset(t, "bad.json", `{"nodes": [{"id": "n1"}]}`))
	requireDatasetError(t, err)
}

func TestIngestionRunner_QueuesThenStarts(t *testing.T) {
	store := newMemStore()
	runner := newTestRunner(IngestConfig{BatchSize: 10}, store, &recordingPublisher{})

	job, err := runner.Run(context.Background(), writeDataset(t, "ds.json", datasetJSON(2, 1)))
	require.NoError(t, err)

	assert.Equal(t, []string{"queue", "start", "complete:succeeded"}, store.ops)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
}

func TestIngestionRunner_JobsEndTerminal(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	ds := writeDataset(t, "ds.json", datasetJSON(3, 2))

	_, err := newTestRunner(IngestConfig{BatchSize: 2}, store, &recordingPublisher{}).Run(ctx, ds)
	require.NoError(t, err)
	_, err = newTestRunner(IngestConfig{BatchSize: 2}, store, &recordingPublisher{status: map[string]int{ResourceEdges: 500}}).Run(ctx, ds)
	require.Error(t, err)
	_, err = newTestRunner(IngestConfig{BatchSize: 2}, store, panickingPublisher{}).Run(ctx, ds)
	require.Error(t, err)
	_, err = newTestRunner(IngestConfig{BatchSize: 2}, store, &recordingPublisher{}).Plan(ctx, ds)
	require.NoError(t, err)

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for _, job := range jobs {
		assert.True(t, job.Status.Terminal(), "job %s left %s", job.ID, job.Status)
		assert.NotNil(t, job.CompletedAt)
	}
}

func TestIngestionRunner_StartFailureFailsJob(t *testing.T) {
	store := newMemStore()
	store.startErr = errors.New("store busy")
	pub := &recordingPublisher{}
	runner := newTestRunner(IngestConfig{BatchSize: 10}, store, pub)

	job, err := runner.Run(context.Background(), writeDataset(t, "ds.json", datasetJSON(1, 0)))

	var ingestErr *domain.IngestionError
	require.True(t, errors.As(err, &ingestErr))
	assert.Contains(t, ingestErr.Error(), "store busy")
	assert.Empty(t, pub.sent)

	stored, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
}

func TestBatched(t *testing.T) {
	assert.Nil(t, batched([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, batched([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2, 3}}, batched([]int{1, 2, 3}, 10))
}
