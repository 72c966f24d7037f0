package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hupe1980/jsonindex"
	"github.com/hupe1980/jsonindex/mapping"
	"github.com/hupe1980/jsonindex/source"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, ingest changes and take scheduled snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; overrides server.addr")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	idx, err := a.openIndex(ctx, reg)
	if err != nil {
		return err
	}
	defer closeIndex(idx)

	src := source.NewMemory(a.cfg.Index.Areas,
		source.WithBus(idx.Bus()),
		source.WithLogger(a.logger.Logger),
	)
	mgr := jsonindex.NewManager(idx, src, jsonindex.WithSnapshotInterval(a.cfg.SnapshotInterval()))

	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(ctx) }()

	select {
	case <-mgr.Ready():
	case err := <-runErr:
		return err
	}

	if a.logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	areas := make(map[string]struct{}, len(a.cfg.Index.Areas))
	for _, area := range a.cfg.Index.Areas {
		areas[area] = struct{}{}
	}
	srv := &http.Server{
		Addr: a.cfg.Server.Addr,
		Handler: newRouter(&handlers{
			idx:      idx,
			src:      src,
			mapper:   mapping.FlatMapper{IDField: a.cfg.Index.IDField},
			areas:    areas,
			gatherer: reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var failure error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		failure = err
	case err := <-runErr:
		failure = err
		runErr <- nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := mgr.Stop(shutdownCtx); err != nil {
		a.logger.Warn("manager stop", "error", err)
	}
	if err := <-runErr; err != nil && failure == nil {
		failure = err
	}
	return failure
}
