package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"once/internal/platform/config"
	"once/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

// main loads configuration, wires the pipeline and runs the authorize and
// token servers until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if !cfg.Authorize.TLSEnabled() {
		return errors.New("authorize server requires ONCE_AUTHORIZE_TLS_CERT and ONCE_AUTHORIZE_TLS_KEY")
	}

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	authorizeSrv := &http.Server{
		Addr:              cfg.Authorize.Addr,
		Handler:           a.authorizeRouter,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			// The chain is verified by the certificate validator against
			// the eID roots, not by the TLS stack.
			ClientAuth: tls.RequireAnyClientCert,
		},
	}
	tokenSrv := &http.Server{
		Addr:              cfg.Token.Addr,
		Handler:           a.tokenRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, bg := range a.background {
		g.Go(func() error {
			if err := bg(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info("starting authorize server", "addr", cfg.Authorize.Addr)
		return serve(authorizeSrv.ListenAndServeTLS(cfg.Authorize.TLSCertFile, cfg.Authorize.TLSKeyFile))
	})
	g.Go(func() error {
		log.Info("starting token server", "addr", cfg.Token.Addr, "tls", cfg.Token.TLSEnabled())
		if cfg.Token.TLSEnabled() {
			return serve(tokenSrv.ListenAndServeTLS(cfg.Token.TLSCertFile, cfg.Token.TLSKeyFile))
		}
		return serve(tokenSrv.ListenAndServe())
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers gracefully")
		a.health.SetDraining()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(
			authorizeSrv.Shutdown(shutdownCtx),
			tokenSrv.Shutdown(shutdownCtx),
		)
	})

	return g.Wait()
}

func serve(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
