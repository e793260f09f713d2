package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/manthysbr/metaingest/internal/core/domain"
	"github.com/manthysbr/metaingest/internal/core/services"
)

// Flag names shared by the commands.
const (
	FlagOrg           = "org"
	FlagAPIURL        = "api-url"
	FlagAPIToken      = "api-token"
	FlagBatchSize     = "batch-size"
	FlagSource        = "source"
	FlagJobStore      = "job-store"
	FlagDatasetFormat = "dataset-format"
	FlagImage         = "image"
	FlagPull          = "pull"
	FlagImageDigest   = "image-digest"
	FlagLogsURL       = "logs-url"
	FlagDryRun        = "dry-run"
	FlagMetricsFile   = "metrics-file"
	FlagLatencyBudget = "latency-budget"
	FlagRSSBudget     = "rss-budget-mb"
	FlagConfig        = "config"
	FlagLogLevel      = "log-level"
)

// envNames are the environment variables read for each flag. They are not
// derived from the flag names because the deployed scripts already use them.
var envNames = map[string]string{
	FlagAPIURL:        "API_URL",
	FlagAPIToken:      "API_TOKEN",
	FlagBatchSize:     "CLI_BATCH_SIZE",
	FlagSource:        "CLI_SOURCE",
	FlagJobStore:      "CLI_JOB_STORE",
	FlagDatasetFormat: "CLI_DATASET_FORMAT",
	FlagLogLevel:      "CLI_LOG_LEVEL",
}

// AddStoreFlags registers the flags every job-store command needs.
func AddStoreFlags(fs *pflag.FlagSet) {
	fs.String(FlagJobStore, "", "path to the job store (default ~/.metadata-cli/jobs.duckdb)")
}

// AddFormatFlag registers the dataset format flag.
func AddFormatFlag(fs *pflag.FlagSet) {
	fs.String(FlagDatasetFormat, DefaultDatasetFormat, "dataset format: json, ndjson or csv")
}

// AddIngestFlags registers the ingestion flags on fs.
func AddIngestFlags(fs *pflag.FlagSet) {
	AddStoreFlags(fs)
	AddFormatFlag(fs)
	fs.StringP(FlagOrg, "o", "", "organization id to ingest into")
	fs.String(FlagAPIURL, "", "base URL of the metadata API")
	fs.String(FlagAPIToken, "", "bearer token for the metadata API")
	fs.Int(FlagBatchSize, DefaultBatchSize, "records per request")
	fs.String(FlagSource, DefaultSource, "default createdBy for records")
	fs.String(FlagImage, "", "container image whose digest is recorded on the job")
	fs.Bool(FlagPull, false, "pull --image when it is missing locally")
	fs.String(FlagImageDigest, "", "image digest recorded on the job")
	fs.String(FlagLogsURL, "", "logs URL recorded on the job")
	fs.Bool(FlagDryRun, false, "validate and print the batch plan without sending or recording anything")
	fs.String(FlagMetricsFile, "", "write job metrics to this Prometheus textfile")
	fs.Duration(FlagLatencyBudget, services.DefaultBudget.Latency, "per-batch latency budget")
	fs.Float64(FlagRSSBudget, services.DefaultBudget.RSSMegabytes, "resident memory budget in MB")
}

// Bind layers environment variables and an optional config file under the
// flags in fs and writes the resolved values back into fs. Flags given on
// the command line win, then env, then the config file.
func Bind(v *viper.Viper, fs *pflag.FlagSet) error {
	if err := v.BindPFlags(fs); err != nil {
		return &domain.ConfigError{Msg: "cannot bind flags", Err: err}
	}
	for name, env := range envNames {
		if fs.Lookup(name) == nil {
			continue
		}
		if err := v.BindEnv(name, env); err != nil {
			return &domain.ConfigError{Msg: "cannot bind " + env, Err: err}
		}
	}

	if c := v.GetString(FlagConfig); c != "" {
		v.SetConfigFile(c)
		if err := v.ReadInConfig(); err != nil {
			return &domain.ConfigError{Msg: fmt.Sprintf("cannot read configuration file %s", c), Err: err}
		}
		valid := make(map[string]bool)
		fs.VisitAll(func(f *pflag.Flag) {
			valid[f.Name] = true
		})
		for _, key := range v.AllKeys() {
			if !valid[key] {
				return &domain.ConfigError{Msg: fmt.Sprintf("invalid option in configuration file: %s", key)}
			}
		}
	}

	var flagErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		value := v.GetString(f.Name)
		if f.Value.Type() == "stringSlice" {
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		}
		if err := f.Value.Set(value); err != nil {
			flagErr = &domain.ConfigError{Msg: fmt.Sprintf("invalid value for %s", f.Name), Err: err}
		}
	})
	return flagErr
}

// FromFlags reads Settings out of a bound flag set. Unregistered flags keep
// their zero values.
func FromFlags(fs *pflag.FlagSet) Settings {
	str := func(name string) string {
		if f := fs.Lookup(name); f != nil {
			return strings.TrimSpace(f.Value.String())
		}
		return ""
	}
	var s Settings
	s.OrgID = str(FlagOrg)
	s.APIURL = str(FlagAPIURL)
	s.APIToken = str(FlagAPIToken)
	s.Source = str(FlagSource)
	s.DatasetFormat = str(FlagDatasetFormat)
	s.JobStorePath = str(FlagJobStore)
	s.Image = str(FlagImage)
	s.ImageDigest = str(FlagImageDigest)
	s.LogsURL = str(FlagLogsURL)
	s.MetricsFile = str(FlagMetricsFile)
	if fs.Lookup(FlagBatchSize) != nil {
		s.BatchSize, _ = fs.GetInt(FlagBatchSize)
	}
	if fs.Lookup(FlagDryRun) != nil {
		s.DryRun, _ = fs.GetBool(FlagDryRun)
	}
	if fs.Lookup(FlagPull) != nil {
		s.PullImage, _ = fs.GetBool(FlagPull)
	}
	if fs.Lookup(FlagLatencyBudget) != nil {
		s.LatencyBudget, _ = fs.GetDuration(FlagLatencyBudget)
	}
	if fs.Lookup(FlagRSSBudget) != nil {
		s.RSSBudgetMB, _ = fs.GetFloat64(FlagRSSBudget)
	}
	return s
}
