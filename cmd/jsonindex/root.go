package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/jsonindex"
	"github.com/hupe1980/jsonindex/config"
	"github.com/hupe1980/jsonindex/mapping"
	promcollector "github.com/hupe1980/jsonindex/metrics/prometheus"
)

// app carries state shared by all subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *jsonindex.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "jsonindex",
		Short:         "Full-text index for JSON documents with snapshot backup",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "jsonindex.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	root.AddCommand(
		newServeCmd(a),
		newImportCmd(a),
		newSearchCmd(a),
		newSnapshotCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := config.ParseLevel(cfg.Log.Level)
	if cfg.Log.Format == "json" {
		a.logger = jsonindex.NewJSONLogger(level)
	} else {
		a.logger = jsonindex.NewTextLogger(level)
	}
	return nil
}

// openIndex opens the configured index. A nil reg disables metrics.
func (a *app) openIndex(ctx context.Context, reg prometheus.Registerer) (*jsonindex.Index, error) {
	store, err := openStore(ctx, a.cfg.Snapshot)
	if err != nil {
		return nil, err
	}

	opts := []jsonindex.Option{
		jsonindex.WithLogger(a.logger),
		jsonindex.WithAreas(a.cfg.Index.Areas...),
		jsonindex.WithMapper(mapping.FlatMapper{IDField: a.cfg.Index.IDField}),
		jsonindex.WithMergeFactor(a.cfg.Index.MergeFactor),
		jsonindex.WithCommitBatchSize(int(a.cfg.Commit.BatchSize)),
		jsonindex.WithCommitBounds(a.cfg.Commit.LowerBound, a.cfg.Commit.UpperBound),
		jsonindex.WithCommitTick(a.cfg.Commit.Tick),
		jsonindex.WithSnapshotStore(store),
		jsonindex.WithMaxSnapshots(a.cfg.Snapshot.MaxSnapshots),
		jsonindex.WithSnapshotIOLimit(a.cfg.Snapshot.IOLimit),
	}
	if reg != nil {
		opts = append(opts, jsonindex.WithMetricsCollector(promcollector.New(reg)))
	}
	return jsonindex.Open(a.cfg.Index.Path, opts...)
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func closeIndex(idx *jsonindex.Index) {
	if err := idx.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close index:", err)
	}
}
