package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/manthysbr/metaingest/internal/config"
	"github.com/manthysbr/metaingest/internal/core/domain"
)

// Process exit codes.
const (
	exitOK        = 0
	exitIngestion = 1
	exitConfig    = 2
	exitDataset   = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return exitCode(root.ExecuteContext(ctx), stderr)
}

// app carries what every subcommand shares.
type app struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		stdout: stdout,
		stderr: stderr,
		logger: slog.New(slog.NewJSONHandler(stderr, nil)),
	}

	rc := &cobra.Command{
		Use:           "metaingest",
		Short:         "Ingest node and edge datasets into the metadata API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Bind(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			level, err := cmd.Flags().GetString(config.FlagLogLevel)
			if err != nil {
				return &domain.ConfigError{Msg: "problem getting log level", Err: err}
			}
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(level)); err != nil {
				return &domain.ConfigError{Msg: fmt.Sprintf("invalid log level %q", level)}
			}
			a.logger = slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: lvl}))
			return nil
		},
	}
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	rc.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &domain.ConfigError{Msg: err.Error()}
	})
	rc.PersistentFlags().StringP(config.FlagConfig, "c", "", "configuration file to read from (yaml, toml or json)")
	rc.PersistentFlags().String(config.FlagLogLevel, "info", "log level: debug, info, warn or error")

	rc.AddCommand(newIngestCommand(a))
	rc.AddCommand(newValidateCommand(a))
	rc.AddCommand(newJobsCommand(a))
	return rc
}

// configArgs reports positional argument mistakes as configuration errors.
func configArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &domain.ConfigError{Msg: err.Error()}
		}
		return nil
	}
}

// exitCode prints err and maps it onto the process exit code.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}

	var (
		cfgErr    *domain.ConfigError
		dsErr     *domain.DatasetError
		ingestErr *domain.IngestionError
	)
	switch {
	case errors.As(err, &cfgErr):
		fmt.Fprintf(stderr, "Configuration error: %s\n", cfgErr)
		return exitConfig
	case errors.As(err, &dsErr):
		fmt.Fprintf(stderr, "Dataset invalid: %s\n", dsErr)
		return exitDataset
	case errors.As(err, &ingestErr):
		fmt.Fprintf(stderr, "Ingestion failed: %s\n", ingestErr)
		return exitIngestion
	}
	fmt.Fprintf(stderr, "Error: %s\n", err)
	return exitIngestion
}
