package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/provmux/config"
	"github.com/jonwraymond/provmux/httpprovider"
	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/service"
)

// serve runs the HTTP server until SIGINT or SIGTERM, then shuts down the
// server, the service, the config watcher and telemetry in that order.
func serve(ctx context.Context, path string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	obs, err := observe.NewObserver(ctx, cfg.Observe, observe.WithPrometheusRegisterer(reg))
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()

	tel, err := newTelemetry(obs)
	if err != nil {
		return err
	}
	logger := tel.logger

	backend, err := newCache(ctx, cfg)
	if err != nil {
		return err
	}
	opts, err := serviceOptions(cfg, httpprovider.New(cfg.Transport), backend, tel)
	if err != nil {
		return err
	}
	svc, err := service.New(opts)
	if err != nil {
		if c, ok := backend.(io.Closer); ok {
			_ = c.Close()
		}
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	manager, err := config.NewManager(path, logger)
	if err != nil {
		return errors.Join(err, svc.Shutdown(ctx))
	}
	defer manager.Close()
	manager.OnChange(func(next *config.Config) {
		if err := svc.SyncProviders(next.Providers); err != nil {
			logger.Error(ctx, "provider sync failed", observe.Err(err))
			return
		}
		logger.Info(ctx, "providers synced", observe.F("providers", len(next.Providers)))
	})
	if err := manager.Watch(ctx); err != nil {
		logger.Warn(ctx, "config hot reload disabled", observe.Err(err))
	}

	a := &api{svc: svc, configs: manager, logger: logger}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.routes(svc.Checker(), promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "listening", observe.F("addr", cfg.Server.Addr), observe.F("version", version))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	logger.Info(ctx, "shutting down")

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, srv.Shutdown(sctx), svc.Shutdown(sctx))
}
