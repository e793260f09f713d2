package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manthysbr/metaingest/internal/core/domain"
	"github.com/manthysbr/metaingest/internal/core/services"
)

// Defaults applied when neither flags, env nor config file set a value.
const (
	DefaultBatchSize     = 500
	DefaultSource        = "cli"
	DefaultDatasetFormat = "json"
)

// Settings holds user-provided settings for running an ingestion job.
type Settings struct {
	OrgID         string
	APIURL        string
	APIToken      string
	BatchSize     int
	Source        string
	DatasetFormat string
	JobStorePath  string

	DryRun        bool
	Image         string
	PullImage     bool
	ImageDigest   string
	LogsURL       string
	MetricsFile   string
	LatencyBudget time.Duration
	RSSBudgetMB   float64
}

// BaseURL is the API URL without a trailing slash.
func (s Settings) BaseURL() string {
	return strings.TrimSuffix(s.APIURL, "/")
}

// Validate normalizes s in place and rejects unusable input with a
// *domain.ConfigError.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.OrgID) == "" {
		return &domain.ConfigError{Msg: "Organization id is required"}
	}
	if strings.TrimSpace(s.APIURL) == "" {
		return &domain.ConfigError{Msg: "API URL is required"}
	}
	if !strings.HasPrefix(s.APIURL, "http://") && !strings.HasPrefix(s.APIURL, "https://") {
		return &domain.ConfigError{Msg: fmt.Sprintf("API URL must be http or https: %s", s.APIURL)}
	}
	if s.BatchSize <= 0 {
		return &domain.ConfigError{Msg: "Batch size must be greater than zero"}
	}
	format, err := services.ParseDatasetFormat(s.DatasetFormat)
	if err != nil {
		return &domain.ConfigError{Msg: fmt.Sprintf("Unsupported dataset format: %s", s.DatasetFormat)}
	}
	s.DatasetFormat = string(format)
	if s.Source == "" {
		s.Source = DefaultSource
	}
	if s.Image != "" && s.ImageDigest != "" {
		return &domain.ConfigError{Msg: "--image and --image-digest are mutually exclusive"}
	}
	if s.LatencyBudget < 0 || s.RSSBudgetMB < 0 {
		return &domain.ConfigError{Msg: "Performance budgets must not be negative"}
	}
	return s.ValidateStore()
}

// ValidateStore fills in the default job store path. It is all the job
// history commands need.
func (s *Settings) ValidateStore() error {
	if s.JobStorePath != "" {
		return nil
	}
	path, err := DefaultJobStorePath()
	if err != nil {
		return &domain.ConfigError{Msg: "cannot resolve default job store path", Err: err}
	}
	s.JobStorePath = path
	return nil
}

// IngestConfig extracts what the coordinator needs.
func (s Settings) IngestConfig() services.IngestConfig {
	return services.IngestConfig{
		Source:        s.Source,
		BatchSize:     s.BatchSize,
		DatasetFormat: s.DatasetFormat,
		ImageDigest:   s.ImageDigest,
		LogsURL:       s.LogsURL,
	}
}

// Budget returns the per-batch performance budget.
func (s Settings) Budget() services.Budget {
	return services.Budget{Latency: s.LatencyBudget, RSSMegabytes: s.RSSBudgetMB}
}

// LogValue keeps the token out of logs.
func (s Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("org", s.OrgID),
		slog.String("api_url", s.BaseURL()),
		slog.String("api_token", MaskSecret(s.APIToken)),
		slog.Int("batch_size", s.BatchSize),
		slog.String("source", s.Source),
		slog.String("dataset_format", s.DatasetFormat),
		slog.String("job_store", s.JobStorePath),
	)
}

// DefaultJobStorePath is ~/.metadata-cli/jobs.duckdb.
func DefaultJobStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".metadata-cli", "jobs.duckdb"), nil
}
