// Command s3soak runs recurring upload/download/delete cycles against
// a configured S3-compatible bucket on cron schedules, generalizing
// the teacher's cmd/synthetics monitor onto the s3multipart coordinator
// and s3xfer executor.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ethanadams/s3client/internal/config"
	"github.com/ethanadams/s3client/internal/logging"
	"github.com/ethanadams/s3client/internal/metrics"
	"github.com/ethanadams/s3client/internal/scheduler"
	"github.com/ethanadams/s3client/internal/s3xfer"
)

func main() {
	once := flag.Bool("once", false, "run every enabled soak cycle a single time and exit, instead of starting the cron loop")
	waitStreamCheck := flag.Bool("wait-stream-check", false, "hold each upload in wait_stream_check until the fixture file is confirmed open, releasing it via ContinueStream")
	flag.Parse()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Error("Failed to load config: %v", err)
		os.Exit(1)
	}

	logging.SetLevel(cfg.Logging.Level)
	logging.Info("Starting s3soak")
	logging.Info("Config: bucket=%s, endpoint=%s, cycles=%d", cfg.S3.Bucket, cfg.S3.Endpoint, len(cfg.Soak))

	mc := metrics.NewCollector()

	transport := s3xfer.NewHTTPTransport()
	transport.OnTiming = func(operation string, t s3xfer.RequestTimings) {
		mc.RecordHTTPTiming(operation, metrics.HTTPTimings{
			DNSLookup:    t.DNSLookup,
			TCPConnect:   t.TCPConnect,
			TLSHandshake: t.TLSHandshake,
			TTFB:         t.TTFB,
			Transfer:     t.Transfer,
			Total:        t.Total,
		})
	}
	executor := s3xfer.NewExecutor(transport)

	creds := cfg.S3.Credentials()
	acl, err := cfg.S3.ACLValue()
	if err != nil {
		logging.Error("Invalid ACL: %v", err)
		os.Exit(1)
	}

	runner := newSoakRunner(executor, mc, creds, acl, *waitStreamCheck)
	sched := scheduler.New(cfg, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		if err := sched.RunAll(ctx); err != nil {
			logging.Error("Soak run failed: %v", err)
			os.Exit(1)
		}
		logging.Info("Soak run complete")
		return
	}

	if err := sched.Start(ctx); err != nil {
		logging.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "s3soak\n\nEndpoints:\n  %s - Prometheus metrics\n  /health - Health check\n", cfg.Metrics.Path)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Info("Starting HTTP server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server failed: %v", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logging.Info("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP server shutdown error: %v", err)
	}
	logging.Info("Shutdown complete")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK\n")
}
