package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hystdevtv/pear/internal/auth"
	"github.com/hystdevtv/pear/internal/inbound"
	"github.com/hystdevtv/pear/internal/ratelimit"
	"github.com/hystdevtv/pear/internal/web"
	"github.com/hystdevtv/pear/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ingest endpoint and run batches and sweeps on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, appOptions{processing: true})
		if err != nil {
			return err
		}
		defer a.Close()

		tokens := auth.NewVerifier(cfg.IngestTokenHash)
		if !tokens.Enabled() {
			slog.Warn("INGEST_TOKEN_HASH not set, ingest endpoint is unauthenticated")
		}

		limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		router := web.NewRouter(web.RouterDeps{
			IngestHandler: handlers.NewIngestHandler(a.depositor, cfg.IngestMaxBodyBytes),
			StatusHandler: handlers.NewStatusHandler(a.guard),
			Tokens:        tokens,
			Limiter:       limiter,
		})

		addr := fmt.Sprintf(":%d", cfg.Port)
		srv := &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		worker := inbound.NewWorker(a.batches, a.sweeper, inbound.WorkerOptions{
			BatchInterval: cfg.BatchInterval,
			SweepInterval: cfg.SweepInterval,
		})

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			slog.Info("pear starting", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})

		g.Go(func() error {
			limiter.Run(gctx)
			return nil
		})

		if cfg.InboundSMTPEnabled {
			smtpSrv := inbound.NewServer(cfg.InboundSMTPAddr, cfg.InboundSMTPDomain, cfg.InboundSMTPRecipients, a.depositor)
			g.Go(func() error {
				if err := smtpSrv.Start(); err != nil {
					return fmt.Errorf("inbound smtp server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				return smtpSrv.Shutdown()
			})
		}

		g.Go(func() error {
			<-gctx.Done()
			slog.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
