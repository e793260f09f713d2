package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manthysbr/metaingest/internal/adapters/docker"
	"github.com/manthysbr/metaingest/internal/adapters/duckdb"
	"github.com/manthysbr/metaingest/internal/adapters/metadataapi"
	"github.com/manthysbr/metaingest/internal/adapters/prom"
	"github.com/manthysbr/metaingest/internal/adapters/sysinfo"
	"github.com/manthysbr/metaingest/internal/config"
	"github.com/manthysbr/metaingest/internal/core/domain"
	"github.com/manthysbr/metaingest/internal/core/ports"
	"github.com/manthysbr/metaingest/internal/core/services"
)

func newIngestCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Send a dataset to the metadata API and record the job",
		Long: `Parse and validate FILE, then POST its nodes and edges in batches to
{api-url}/orgs/{org}/nodes and /edges. Every run is recorded in the job store.

Exit codes: 0 success, 1 ingestion failed, 2 configuration error, 3 dataset invalid.`,
		Args: configArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.FromFlags(cmd.Flags())
			if err := settings.Validate(); err != nil {
				return err
			}
			return a.ingest(cmd.Context(), settings, args[0])
		},
	}
	config.AddIngestFlags(cmd.Flags())
	return cmd
}

func (a *app) ingest(ctx context.Context, settings config.Settings, path string) error {
	a.logger.Debug("ingest.settings", "settings", settings)

	if settings.Image != "" {
		digest, err := a.resolveDigest(ctx, settings.Image, settings.PullImage)
		if err != nil {
			return err
		}
		settings.ImageDigest = digest
	}

	var sampler ports.ResourceSampler
	if s, err := sysinfo.NewProcessSampler(); err != nil {
		a.logger.Warn("rss sampling unavailable", "error", err)
	} else {
		sampler = s
	}
	progress := services.NewProgressLogger(a.logger, sampler, settings.Budget())

	if settings.DryRun {
		plan, err := services.NewIngestionRunner(a.logger, settings.IngestConfig(), nil, nil, progress).Plan(ctx, path)
		if err != nil {
			return err
		}
		return a.printJSON(map[string]any{"plan": plan})
	}

	repo, err := duckdb.NewRepository(settings.JobStorePath)
	if err != nil {
		return err
	}
	defer repo.Close()

	client := metadataapi.NewClient(settings.BaseURL(), settings.OrgID, settings.APIToken, nil)
	runner := services.NewIngestionRunner(a.logger, settings.IngestConfig(), repo, client, progress)

	job, runErr := runner.Run(ctx, path)
	if settings.MetricsFile != "" && job.ID != "" {
		if err := prom.WriteJobMetrics(settings.MetricsFile, job); err != nil {
			a.logger.Warn("failed to write metrics file", "path", settings.MetricsFile, "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	return a.printJSON(job)
}

func (a *app) resolveDigest(ctx context.Context, ref string, pull bool) (string, error) {
	mgr, err := docker.NewManager(pull)
	if err != nil {
		return "", &domain.ConfigError{Msg: "cannot reach docker", Err: err}
	}
	defer mgr.Close()

	digest, err := mgr.ResolveDigest(ctx, ref)
	if err != nil {
		return "", &domain.ConfigError{Msg: fmt.Sprintf("cannot resolve digest of %s", ref), Err: err}
	}
	a.logger.Info("image digest resolved", "image", ref, "digest", digest)
	return digest, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
