//go:build !test

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/topo/internal/api"
	"github.com/jbweber/homelab/topo/internal/config"
	"github.com/jbweber/homelab/topo/internal/domain"
	"github.com/jbweber/homelab/topo/internal/export"
	"github.com/jbweber/homelab/topo/internal/loader"
	"github.com/jbweber/homelab/topo/internal/logging"
	"github.com/jbweber/homelab/topo/internal/observability"
	"github.com/jbweber/homelab/topo/internal/registry"
)

func newServeCommand(root *rootFlags) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry and export HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			logging.Configure(cfg.Log.Level, cfg.Log.Format)
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := cfg.InitializeDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	opts, err := cfg.ExportOptions()
	if err != nil {
		return err
	}

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	reg := registry.NewFromDB(db, metrics)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	api.NewAPI(reg, opts, metrics).RegisterRoutes(r)
	r.Handle("/metrics", metrics.Handler())

	// Health check endpoint
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "topo web service is running"); err != nil {
			logging.Error("failed to write response", "error", err)
		}
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting topo web service", "addr", srv.Addr, "db", cfg.DBPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// exportFlags override the export section of the config for one run.
type exportFlags struct {
	mode       string
	out        string
	namespace  string
	strategy   string
	strict     bool
	generation string
}

func (f *exportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.mode, "mode", "m", string(export.ModeBundle), "bundle, claims or machines")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write manifests to a file instead of stdout")
	cmd.Flags().StringVarP(&f.namespace, "namespace", "n", "", "target namespace")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "segmentation strategy (per-connection, shared, per-type)")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "fail when an address lies outside its segment subnet")
	cmd.Flags().StringVar(&f.generation, "generation", "", "machine name suffix (defaults to the current time)")
}

func (f *exportFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("namespace") {
		cfg.Export.Namespace = f.namespace
	}
	if flags.Changed("strategy") {
		cfg.Export.Strategy = f.strategy
	}
	if flags.Changed("strict") {
		cfg.Export.StrictSubnets = f.strict
	}
}

// run compiles the snapshot and writes the manifests.
func (f *exportFlags) run(cmd *cobra.Command, cfg *config.Config, snapshot func(context.Context) ([]domain.Device, []domain.Connection, error)) error {
	f.apply(cmd, cfg)
	// Manifests go to stdout, so logs go to stderr
	logging.SetOutput(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	mode, err := export.ParseMode(f.mode)
	if err != nil {
		return err
	}
	opts, err := cfg.ExportOptions()
	if err != nil {
		return err
	}
	opts.Generation = f.generation

	devices, conns, err := snapshot(cmd.Context())
	if err != nil {
		return err
	}

	out, err := export.Export(mode, devices, conns, opts)
	if err != nil {
		return err
	}
	if f.out == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}
	if err := os.WriteFile(f.out, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write manifests: %w", err)
	}
	logging.Info("manifests written", "path", f.out, "mode", string(mode))
	return nil
}

func newExportCommand(root *rootFlags) *cobra.Command {
	flags := &exportFlags{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export manifests for the design stored in the registry database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			return flags.run(cmd, cfg, func(ctx context.Context) ([]domain.Device, []domain.Connection, error) {
				db, err := cfg.InitializeDatabase()
				if err != nil {
					return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
				}
				defer db.Close()
				return registry.NewFromDB(db, nil).Snapshot(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newCompileCommand(root *rootFlags) *cobra.Command {
	flags := &exportFlags{}
	var file string

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a design file into manifests without a registry database",
		Example: "  topo compile -f lab.yaml --mode claims -o claims.yaml\n" +
			"  topo compile -f lab.yaml --mode machines -o machines.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			return flags.run(cmd, cfg, func(ctx context.Context) ([]domain.Device, []domain.Connection, error) {
				design, err := loader.LoadFile(file)
				if err != nil {
					return nil, nil, err
				}
				return design.Snapshot(ctx)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "design file (YAML)")
	_ = cmd.MarkFlagRequired("file")
	flags.register(cmd)
	return cmd
}
