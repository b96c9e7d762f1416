package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"cleanpoints/internal/camera"
	"cleanpoints/internal/evidence"
	"cleanpoints/internal/flow"
	"cleanpoints/internal/platform/config"
	"cleanpoints/internal/platform/httpserver"
	"cleanpoints/internal/platform/logger"
	"cleanpoints/internal/platform/metrics"
	"cleanpoints/internal/qrscan"
	"cleanpoints/internal/qrscan/zxing"
	"cleanpoints/internal/session"
	httptransport "cleanpoints/internal/transport/http"
	"cleanpoints/internal/validation"
	"cleanpoints/internal/validation/simulate"
)

const (
	shutdownTimeout  = 10 * time.Second
	simulatedLatency = 1500 * time.Millisecond
)

// main wires the kiosk: camera, scanner, capturer and validation client feed
// one flow controller, which the HTTP surface exposes. Everything runs under
// one errgroup so a failing part stops the rest.
func main() {
	if err := run(); err != nil {
		slog.Error("kiosk stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store, closeStore, err := buildSessionStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	auditPublisher, closeAudit, err := buildAudit(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	cameras := camera.NewManager(buildDevice(cfg, log),
		camera.WithLogger(log),
		camera.WithMetrics(m),
	)
	scanner, err := qrscan.New(zxing.New(zxing.WithTryHarder()),
		qrscan.WithPolicy(qrscan.PolicyFromConfig(cfg.Scan)),
		qrscan.WithLogger(log),
		qrscan.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("build scanner: %w", err)
	}
	capturer := evidence.NewCapturer(
		evidence.WithQuality(cfg.JPEGQuality),
		evidence.WithLogger(log),
		evidence.WithMetrics(m),
	)

	broker := httptransport.NewBroker(log)
	opts := []flow.Option{
		flow.WithNotifier(broker),
		flow.WithAudit(auditPublisher),
		flow.WithLogger(log),
		flow.WithMetrics(m),
		flow.WithSubmitTimeout(cfg.SubmitTimeout),
	}

	var submitter flow.Submitter
	if cfg.Simulate {
		log.Warn("validation backend simulated, results are random")
		submitter = simulate.New(simulatedLatency, uint64(time.Now().UnixNano()))
	} else {
		client, err := validation.New(cfg.APIBaseURL,
			validation.WithTimeout(cfg.SubmitTimeout),
			validation.WithTokenStore(store),
			validation.WithLogger(log),
			validation.WithMetrics(m),
		)
		if err != nil {
			return fmt.Errorf("build validation client: %w", err)
		}
		submitter = client
		opts = append(opts, flow.WithBalanceRefresh(client, store))
	}

	controller, err := flow.New(cameras, scanner, capturer, submitter, session.Users{Store: store}, opts...)
	if err != nil {
		return fmt.Errorf("build flow controller: %w", err)
	}

	router := httptransport.NewRouter(log, registry,
		httptransport.NewFlowHandler(controller, broker, log),
		httptransport.NewSessionHandler(store, controller, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	// Request contexts end with the group so open event streams let
	// Shutdown finish.
	srv.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		return controller.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting cleanpoints kiosk",
			"addr", cfg.Addr,
			"api", cfg.APIBaseURL,
			"simulate", cfg.Simulate,
			"camera_dir", cfg.CameraDir,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()
	<-controller.Done()
	acquired, released := cameras.Counts()
	log.Info("kiosk stopped", "camera_acquired", acquired, "camera_released", released)
	return err
}
