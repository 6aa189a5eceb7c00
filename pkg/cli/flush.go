package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/analytics"
	"github.com/platinummonkey/insight/pkg/async"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
	"github.com/platinummonkey/insight/pkg/storage/postgres"
)

// Execute flushes once, or schedules flushes and serves health and metrics
// until SIGINT/SIGTERM.
func (c *FlushCommand) Execute(args []string) error {
	ctx, rt, err := setup(context.Background(), c.globals, c.deps)
	if err != nil {
		return err
	}
	defer rt.close()

	counters, closeCounters, err := rt.counterStore()
	if err != nil {
		return err
	}
	defer closeCounters()

	durable, closeDurable, err := rt.durableStore()
	if err != nil {
		return err
	}
	defer closeDurable()

	if c.RunOnce {
		return c.flushOnce(ctx, rt, counters, durable)
	}
	return c.serve(ctx, rt, counters, durable)
}

func (c *FlushCommand) flushOnce(ctx context.Context, rt *runtime, counters storage.CounterStore, writer storage.StatisticsWriter) error {
	aggregator := analytics.NewAggregator(counters, writer, rt.cfg.Flush.Workers, rt.logger, nil)

	result, err := aggregator.Flush(ctx)
	if err != nil {
		rt.logger.WithError(err).Error("Flush failed")
		return fmt.Errorf("flush failed: %w", err)
	}

	if rt.json {
		if err := printJSON(rt.out, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(rt.out, "Flushed %d of %d objects (%d unchanged, %d failed)\n",
			result.Flushed, result.Objects, result.Unchanged, result.Failed)
		fmt.Fprintf(rt.out, "- Total views added: %d\n", result.TotalViews)
		fmt.Fprintf(rt.out, "- Unique views added: %d\n", result.UniqueViews)
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d objects failed to flush", result.Failed)
	}
	return nil
}

func (c *FlushCommand) serve(ctx context.Context, rt *runtime, counters storage.CounterStore, durable storage.StatisticsWriter) error {
	schedule := c.Schedule
	if schedule == "" {
		schedule = rt.cfg.Flush.Schedule
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	aggregator := analytics.NewAggregator(counters, durable, rt.cfg.Flush.Workers, rt.logger, metrics)

	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(rt.logger)),
	))
	if _, err := scheduler.AddFunc(schedule, func() {
		defer async.Recover(rt.logger, "statistics flush")
		if _, err := aggregator.Flush(ctx); err != nil {
			rt.logger.WithError(err).Error("Scheduled flush failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid flush schedule %q: %w", schedule, err)
	}

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(primaryDB(durable), counters, c.version))
	if rt.cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, registry)
	}

	server := &http.Server{
		Addr:              ":" + rt.cfg.Server.HealthPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if pg, ok := durable.(*postgres.PostgresStorage); ok {
		pg.Connections().StartHealthCheckRoutine(ctx, 30*time.Second)
	}

	serveErrs := make(chan error, 1)
	async.SafeGo(ctx, rt.logger, 0, "health server", func(context.Context) error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
			cancel()
			return err
		}
		return nil
	})

	shutdown := observability.NewShutdownManager(rt.logger, server, rt.cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for running flush: %w", ctx.Err())
		}
	})

	scheduler.Start()
	rt.logger.WithFields(logrus.Fields{
		"schedule":    schedule,
		"health_port": rt.cfg.Server.HealthPort,
	}).Info("Counter flusher started")

	err := shutdown.WaitForShutdown(ctx)
	select {
	case serveErr := <-serveErrs:
		return fmt.Errorf("health server failed: %w", serveErr)
	default:
	}
	return err
}

// primaryDB returns the database handle for health checks, or nil when the
// durable store is not PostgreSQL.
func primaryDB(writer storage.StatisticsWriter) *sql.DB {
	if pg, ok := writer.(*postgres.PostgresStorage); ok {
		return pg.Connections().Primary()
	}
	return nil
}
