package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/auth"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	apphttp "fintrack/internal/http"
	applog "fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var requestsPerMinute int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API and the recurring scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl := ratelimit.DefaultConfig()
			if requestsPerMinute > 0 {
				rl.RequestsPerMinute = requestsPerMinute
			}
			return runServe(cmd.Context(), a, rl)
		},
	}
	cmd.Flags().IntVar(&requestsPerMinute, "rate-limit", 0, "write requests per minute per account (default 60)")

	return cmd
}

func runServe(parent context.Context, a *app, rl ratelimit.Config) error {
	if a.cfg.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required to serve the API", core.ErrConfiguration)
	}
	authManager, err := auth.NewManager(a.cfg.JWTSecret)
	if err != nil {
		return err
	}

	ctx, stop := ShutdownContext(parent)
	defer stop()

	rt, err := NewRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			a.logger.Error("Failed to close backend", applog.FieldError, err)
		}
	}()

	sweeper := cache.NewManager(a.logger.Slog())
	sweeper.Register(rt.Sessions.Cache())
	sweeper.StartCleanup(time.Minute)
	defer sweeper.Stop()

	srv := apphttp.NewServer(":"+a.cfg.Port, apphttp.ServerDeps{
		Sessions:  rt.Sessions,
		Auth:      authManager,
		Rates:     rt.Rates,
		Logger:    a.logger,
		RateLimit: rl,
		Location:  rt.Location,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "Starting fintrack server",
			"port", a.cfg.Port,
			applog.FieldBackend, a.cfg.DataBackend,
			"timezone", rt.Location.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down", applog.FieldOperation, applog.OpShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if follow := rt.Backend.Follow; follow != nil {
		g.Go(func() error {
			// Losing the change feed degrades to this process's own
			// writes; the API keeps serving.
			if err := follow(ctx); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "Remote change feed stopped",
					applog.FieldError, fmt.Errorf("%w: %w", core.ErrRemoteSubscription, err))
			}
			return nil
		})
	}

	scheduler := worker.NewRecurringScheduler(rt.Sessions,
		worker.SchedulerConfig{Interval: a.cfg.RecurringInterval}, a.logger.Slog())
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
	}()

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("Server stopped gracefully")
	return nil
}
