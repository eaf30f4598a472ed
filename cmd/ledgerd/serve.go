package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/config"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/notify"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/server"
)

func serveCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health endpoint and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg)
	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	metrics := server.NewMetrics()
	clk := clock.RealClock{}

	engine, err := newEngine(cfg, b, log)
	if err != nil {
		return err
	}
	engine.Observer = metrics

	dispatcher := notify.NewDispatcher(b.queue, notificationSink(cfg, log), clk, log.With().Str("component", "notify").Logger())
	dispatcher.Observe = metrics.ObserveNotification
	engine.Notifier = dispatcher

	guard := idempotency.NewGuard(b.idempotency, clk, cfg.IdempotencyTTL)
	if cfg.IdempotencyLease > 0 {
		guard.Lease = cfg.IdempotencyLease
	}
	guard.Log = log.With().Str("component", "idempotency").Logger()

	keyset, err := cfg.Keyset()
	if err != nil {
		return err
	}
	verifier := auth.NewJWTVerifierWithKeyset(keyset)

	tlsCfg, err := server.BuildTLSConfig(server.TLSConfig{
		Enabled:           cfg.TLSEnabled,
		CertFile:          cfg.TLSCertFile,
		KeyFile:           cfg.TLSKeyFile,
		ClientCAFile:      cfg.TLSClientCAFile,
		RequireClientCert: cfg.TLSRequireClientCert,
	})
	if err != nil {
		return err
	}
	remote, err := server.NewRemoteAccessGuard(clk, b.audit, cfg.TrustedCIDRs)
	if err != nil {
		return err
	}
	handler, err := server.NewHTTPHandler(server.HTTPDeps{
		Ledger:   &server.LedgerHandler{Engine: engine, Idempotency: guard, Audit: b.audit},
		System:   server.SystemHandler{Ready: b.ready, Version: cfg.Version},
		Verifier: verifier,
		Guard:    remote,
		Metrics:  metrics,
		Log:      log,
	})
	if err != nil {
		return err
	}

	dispatcher.Start(ctx, cfg.NotifyInterval)
	engine.StartReaper(ctx, cfg.ReaperInterval, cfg.ReaperBatch)
	guard.StartCleanupWorker(ctx, cfg.IdempotencyCleanupInterval, cfg.IdempotencyCleanupBatch, func(deleted int64, err error) {
		metrics.ObserveIdempotencyCleanup(deleted, err)
		metrics.RefreshIdempotencyCounts(ctx, b.idempotency)
	})

	grpcServer, _ := server.NewGRPCServer(tlsCfg, verifier)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errc <- err
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Bool("tls", tlsCfg != nil).Msg("http listening")
		var err error
		if tlsCfg != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		log.Error().Err(err).Msg("listener stopped")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("stopped")
	return nil
}
