package main

import (
	"runtime"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/metaingest/internal/config"
	"github.com/manthysbr/metaingest/internal/core/domain"
	"github.com/manthysbr/metaingest/internal/core/services"
)

type validation struct {
	path    string
	dataset domain.Dataset
	err     error
}

func newValidateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Parse and validate datasets without sending or recording anything",
		Args:  configArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString(config.FlagDatasetFormat)
			if _, err := services.ParseDatasetFormat(format); err != nil {
				return &domain.ConfigError{Msg: err.Error()}
			}
			return a.validate(format, args)
		},
	}
	config.AddFormatFlag(cmd.Flags())
	return cmd
}

// validate checks every file concurrently and reports them in argument
// order. The first failing file decides the returned error.
func (a *app) validate(format string, paths []string) error {
	results := make([]validation, len(paths))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			ds, err := services.NewDatasetLoader(format).Load(path)
			results[i] = validation{path: path, dataset: ds, err: err}
			return nil
		})
	}
	_ = g.Wait()

	t := table.NewWriter()
	t.SetOutputMirror(a.stdout)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"file", "nodes", "edges", "result"})

	var firstErr error
	for _, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			t.AppendRow(table.Row{r.path, "-", "-", r.err.Error()})
			continue
		}
		t.AppendRow(table.Row{r.path, len(r.dataset.Nodes), len(r.dataset.Edges), "ok"})
	}
	t.Render()
	return firstErr
}
