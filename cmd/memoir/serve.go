package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-memoir/pkg/live/gate"
	"github.com/vango-go/vai-memoir/pkg/metrics"
	"github.com/vango-go/vai-memoir/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session controller behind the HTTP UI edge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger
	if err := cfg.ValidateSession(); err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	issuer, err := newIssuer(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	hand, err := openHandoffs(ctx, cfg.Handoff, logger)
	if err != nil {
		return fmt.Errorf("handoff: %w", err)
	}
	defer hand.Close()

	m := metrics.New()
	ctrl, err := newController(cfg, store, issuer, hand.publisher(), m, logger)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = ctrl.Run(runCtx)
	}()

	trigger := gate.New(ctrl, gate.Config{
		Debounce: cfg.Gate.Debounce,
		Cooldown: cfg.Gate.Cooldown,
		Logger:   logger,
	})
	srv, err := server.New(server.Options{
		Session:   ctrl,
		Trigger:   trigger,
		Handoffs:  hand.broadcaster,
		Metrics:   m.Handler(),
		StaticDir: cfg.Server.StaticDir,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	logger.Info("starting memoir",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Driver,
		"credentials", cfg.Credentials.Mode,
		"agent_id", cfg.Session.AgentID,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := ctrl.End(shutdownCtx); err != nil {
		logger.Warn("end session on shutdown", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	cancelRun()
	<-runDone

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("memoir stopped")
	return nil
}
