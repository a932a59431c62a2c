package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	api "github.com/mind-engage/mindengage-checkpoint/internal/api/http"
	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/config"
	"github.com/mind-engage/mindengage-checkpoint/internal/syncq"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, sync workers and sweeper",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := newApp(bootCtx)
	cancel()
	if err != nil {
		return err
	}
	defer a.close()

	origins := a.cfg.CORSOriginsOffline
	if a.cfg.Mode == config.ModeOnline {
		origins = a.cfg.CORSOriginsOnline
	}
	srv := &http.Server{
		Addr: a.cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Sessions:    a.svc,
			Sync:        a.queue,
			Outbox:      a.events,
			Auth:        a.auth,
			Verifier:    a.cat,
			DevAuth:     a.cfg.EnableDevAuth,
			CORSOrigins: origins,
			RequestLog:  true,
			Ready:       a.db.PingContext,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return syncq.NewPool(a.queue, a.cfg.Sync.Workers, a.cfg.Sync.PollInterval).Run(gctx)
	})
	g.Go(func() error {
		return checkpoint.NewSweeper(a.svc, a.cfg.Sweep.Interval).Run(gctx)
	})
	g.Go(func() error {
		a.log.WithField("checkpoints", len(a.cat.Checkpoints())).
			Infof("listening on %s (mode=%s, db=%s)", a.cfg.HTTPAddr, a.cfg.Mode, a.cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
