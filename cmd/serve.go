package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"screening-session-service/internal/app"
	"screening-session-service/internal/config"
	apihttp "screening-session-service/internal/http"
	"screening-session-service/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run one screening conversation behind the control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), config.Load())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, app.Options{})
	if err != nil {
		return err
	}

	// The conversation outlives the signal so Shutdown can still close the
	// session and let the in-flight interpretation finish.
	convCtx, cancelConv := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConv()
	if err := application.Start(convCtx); err != nil {
		return err
	}

	api := &http.Server{
		Addr:              cfg.Service.HTTPAddr,
		Handler:           apihttp.NewRouter(application.Coordinator, application.Hub, application.Ready),
		ReadHeaderTimeout: 10 * time.Second,
	}
	obs := observability.NewServer(cfg.Service.MetricsAddr, nil, application.Ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		application.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return obs.Run(gctx)
	})
	g.Go(func() error {
		return application.Health.Run(gctx, ":"+cfg.Service.GRPCPort)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Service.HTTPAddr).Msg("Control API listening")
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return api.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr != nil {
		log.Error().Err(runErr).Msg("Server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
