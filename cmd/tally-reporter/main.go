package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tallyworks/tally/pkg/allocation"
	"github.com/tallyworks/tally/pkg/config"
	"github.com/tallyworks/tally/pkg/observability"
)

var runOnce = flag.Bool("run-once", false, "Run one scan and exit (for testing)")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := setupLogger(cfg.Observability.LogLevel)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	validator := allocation.NewValidator(db)

	if *runOnce {
		if err := runScan(context.Background(), db, validator, metrics, logger, cfg.Reporter.WindowDays); err != nil {
			logger.Fatalf("Scan failed: %v", err)
		}
		logger.Info("Scan completed successfully")
		return
	}

	// Serve /metrics so the scan results are scrapeable.
	mux := http.NewServeMux()
	observability.RegisterMetricsEndpoint(mux, registry)
	metricsServer := &http.Server{Addr: ":" + cfg.Reporter.MetricsPort, Handler: mux}
	go func() {
		logger.Infof("Metrics endpoint listening on :%s", cfg.Reporter.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	c := cron.New()
	_, err = c.AddFunc(cfg.Reporter.Schedule, func() {
		logger.Info("Starting over-allocation scan")
		if err := runScan(context.Background(), db, validator, metrics, logger, cfg.Reporter.WindowDays); err != nil {
			logger.Errorf("Over-allocation scan failed: %v", err)
		} else {
			logger.Info("Over-allocation scan completed")
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule scan: %v", err)
	}

	c.Start()
	logger.Infof("Tally reporter started, schedule: %s", cfg.Reporter.Schedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Metrics server shutdown error: %v", err)
	}

	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info("Reporter stopped")
}

// runScan refreshes the over-allocation and active-user gauges. The two
// queries are independent, so they run concurrently.
func runScan(ctx context.Context, db *sql.DB, validator *allocation.Validator, metrics *observability.Metrics, logger *logrus.Logger, windowDays int) error {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -windowDays).Format("2006-01-02")
	to := now.AddDate(0, 0, windowDays).Format("2006-01-02")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		over, err := validator.OverAllocatedDates(ctx, from, to)
		if err != nil {
			return err
		}
		metrics.OverAllocatedWorkerDays.Set(float64(len(over)))
		for _, o := range over {
			logger.WithFields(logrus.Fields{
				"worker_key": o.WorkerKey,
				"date":       o.Date,
				"total":      o.Total.String(),
			}).Warn("Worker over capacity")
		}
		logger.Infof("Scanned %s..%s: %d over-allocated worker-days", from, to, len(over))
		return nil
	})

	g.Go(func() error {
		var active int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_active`).Scan(&active); err != nil {
			return err
		}
		metrics.ActiveUsersTotal.Set(float64(active))
		return nil
	})

	return g.Wait()
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
