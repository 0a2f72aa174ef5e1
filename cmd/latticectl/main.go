// Package main provides the latticectl CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/latticegraph/lattice/pkg/config"
	"github.com/latticegraph/lattice/pkg/gctx"
	"github.com/latticegraph/lattice/pkg/loader"
	"github.com/latticegraph/lattice/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "latticectl",
		Short: "latticectl operates a lattice segmented graph store",
		Long: `latticectl is the operator CLI for a lattice store: a concurrent,
segmented element store maintaining a directed typed hypergraph of
nodes, links, and arcs.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a lattice.yaml config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("latticectl v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Open a store and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stat",
		Short: "Open a store and print element counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStat(configPath)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "load <template.yaml>",
		Short: "Open a store and materialize a template file against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(configPath, args[0])
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStorage(cfg *config.Config, logger *slog.Logger) (*storage.Storage, error) {
	var opts []storage.Option
	opts = append(opts, storage.WithLogger(logger))

	if cfg.DataDir != "" {
		persistence := storage.NewBadgerPersistence(storage.BadgerPersistenceOptions{
			SyncWrites: cfg.SyncWrites,
		})
		opts = append(opts, storage.WithPersistence(persistence))
	}

	st := storage.NewStorage(cfg, opts...)
	if err := st.Initialize(cfg.DataDir, false); err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return st, nil
}

func runServe(configPath string) error {
	logger := slog.Default()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("lattice store open", "data_dir", cfg.DataDir, "max_loaded_segments", cfg.MaxLoadedSegments)
	<-ctx.Done()
	logger.Info("shutting down")

	return st.Shutdown(true)
}

func runStat(configPath string) error {
	logger := slog.Default()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Shutdown(true)

	stat, err := st.GetElementsStat(gctx.New(0))
	if err != nil {
		return err
	}
	fmt.Printf("segments: %d\nnodes:    %d\nlinks:    %d\narcs:     %d\n",
		st.SegmentsCount(), stat.Nodes, stat.Links, stat.Arcs)
	return nil
}

func runLoad(configPath, templatePath string) error {
	logger := slog.Default()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Shutdown(true)

	tmpl, params, err := loader.LoadFile(templatePath)
	if err != nil {
		return err
	}

	structAddr, err := loader.Load(gctx.New(0), st, tmpl, params)
	if err != nil {
		return fmt.Errorf("loading %s: %w", templatePath, err)
	}
	fmt.Printf("loaded structure %s\n", structAddr)
	return nil
}
