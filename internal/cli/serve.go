package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/netguard/pkg/alert"
	"github.com/hed1ad/netguard/pkg/api"
	"github.com/hed1ad/netguard/pkg/forecast"
	"github.com/hed1ad/netguard/pkg/inference"
	"github.com/hed1ad/netguard/pkg/store"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the anomaly detection HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	forecaster, err := forecast.New(cfg.ML.Forecaster)
	if err != nil {
		return err
	}

	engineOpts := []inference.Option{
		inference.WithLogger(a.logger),
		inference.WithRegisterer(reg),
	}
	if forecaster != nil {
		engineOpts = append(engineOpts, inference.WithForecaster(forecaster))
	}
	engine := inference.New(cfg.ML.ModelsDir, engineOpts...)

	serverOpts := []api.Option{
		api.WithLogger(a.logger),
		api.WithRegistry(reg),
		api.WithMaxBatchEvents(cfg.API.MaxBatchEvents),
	}

	if cfg.Store.DSN != "" {
		st, err := store.Open(cfg.Store.DSN, store.WithLogger(a.logger))
		if err != nil {
			return err
		}
		defer st.Close()
		serverOpts = append(serverOpts, api.WithStore(st))
	}

	if cfg.Alerts.NATSURL != "" {
		pub, err := alert.NewNATSPublisher(cfg.Alerts.NATSURL,
			alert.WithSubject(cfg.Alerts.Subject),
			alert.WithLogger(a.logger))
		if err != nil {
			return err
		}
		defer pub.Close()
		serverOpts = append(serverOpts, api.WithPublisher(pub))
	}

	srv := &http.Server{
		Addr:              cfg.API.Addr(),
		Handler:           api.NewServer(engine, serverOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening",
			zap.String("addr", srv.Addr),
			zap.Bool("model_loaded", engine.Ready()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down http server")

		shCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
