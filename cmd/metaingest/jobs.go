package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"github.com/manthysbr/metaingest/internal/adapters/duckdb"
	"github.com/manthysbr/metaingest/internal/config"
	"github.com/manthysbr/metaingest/internal/core/domain"
	"github.com/manthysbr/metaingest/pkg/jobsapi"
)

func newJobsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the job history",
	}
	config.AddStoreFlags(cmd.PersistentFlags())

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded jobs, newest first",
		Args:  configArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(repo *duckdb.Repository) error {
				jobs, err := repo.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("list jobs: %w", err)
				}
				a.renderJobs(jobs)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show JOB_ID",
		Short: "Print one job as JSON",
		Args:  configArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(repo *duckdb.Repository) error {
				job, err := repo.Get(cmd.Context(), domain.JobID(args[0]))
				if errors.Is(err, domain.ErrJobNotFound) {
					return fmt.Errorf("job %s not found", args[0])
				}
				if err != nil {
					return fmt.Errorf("get job: %w", err)
				}
				return a.printJSON(job)
			})
		},
	})

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job history read-only over HTTP",
		Args:  configArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			origins, _ := cmd.Flags().GetStringSlice("allowed-origin")
			return a.withStore(cmd, func(repo *duckdb.Repository) error {
				srv := jobsapi.NewServer(a.logger, repo, jobsapi.Config{Addr: addr, AllowedOrigins: origins})
				return srv.Run(cmd.Context())
			})
		},
	}
	serve.Flags().String("addr", ":8080", "listen address")
	serve.Flags().StringSlice("allowed-origin", nil, "CORS origins allowed to read the API (default any)")
	cmd.AddCommand(serve)

	return cmd
}

// withStore opens the job store named by the command's flags for fn.
func (a *app) withStore(cmd *cobra.Command, fn func(*duckdb.Repository) error) error {
	settings := config.FromFlags(cmd.Flags())
	if err := settings.ValidateStore(); err != nil {
		return err
	}
	repo, err := duckdb.NewRepository(settings.JobStorePath)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo)
}

func (a *app) renderJobs(jobs []domain.JobRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(a.stdout)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"job_id", "source", "status", "started_at", "completed_at", "nodes", "edges", "batches"})
	for _, job := range jobs {
		completed := "-"
		if job.CompletedAt != nil {
			completed = job.CompletedAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			job.ID,
			job.Source,
			job.Status,
			job.StartedAt.Format(time.RFC3339),
			completed,
			job.Metrics.Int(domain.MetricNodesAccepted),
			job.Metrics.Int(domain.MetricEdgesAccepted),
			job.Metrics.Int(domain.MetricBatches),
		})
	}
	t.Render()
}
