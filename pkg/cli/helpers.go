package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/config"
	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/contextkeys"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
	"github.com/platinummonkey/insight/pkg/storage/postgres"
	redisstore "github.com/platinummonkey/insight/pkg/storage/redis"
)

// runtime is the loaded config plus the logger and telemetry built from it.
type runtime struct {
	cfg    *config.Config
	logger *logrus.Logger
	otel   *observability.OTelProviders
	out    io.Writer
	json   bool
	deps   *deps
}

// setup loads config, builds the logger and starts OpenTelemetry. The
// returned context carries the logger and a fresh run id.
func setup(ctx context.Context, globals *GlobalFlags, d *deps) (context.Context, *runtime, error) {
	if d == nil {
		d = &deps{}
	}

	cfg, err := config.LoadConfig(globals.Config)
	if err != nil {
		return ctx, nil, err
	}
	if globals.Verbose {
		cfg.Observability.LogLevel = observability.DebugLevel.String()
	}

	logs := d.logs
	if logs == nil {
		// stdout is reserved for command output
		logs = os.Stderr
	}
	logger := observability.NewLogger(cfg.Observability.Level(), cfg.Observability.LogFormat, logs)

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel, logger)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	out := d.stdout
	if out == nil {
		out = os.Stdout
	}

	ctx = contextkeys.WithRunID(ctx, uuid.NewString())
	ctx = observability.WithLogger(ctx, logger)

	return ctx, &runtime{
		cfg:    cfg,
		logger: logger,
		otel:   providers,
		out:    out,
		json:   globals.JSON,
		deps:   d,
	}, nil
}

// close flushes telemetry.
func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := observability.ShutdownOTel(ctx, r.otel, r.logger); err != nil {
		r.logger.WithError(err).Warn("OpenTelemetry shutdown failed")
	}
}

// durableStore returns the injected durable store or connects to PostgreSQL.
func (r *runtime) durableStore() (storage.DurableStore, func(), error) {
	if r.deps.durable != nil {
		return r.deps.durable, func() {}, nil
	}

	store, err := postgres.NewPostgresStorage(r.cfg.Storage, r.logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			r.logger.WithError(err).Warn("Failed to close durable store")
		}
	}, nil
}

// counterStore returns the injected counter store or connects to Redis. An
// unreachable Redis yields a store in the unavailable state, not an error.
func (r *runtime) counterStore() (storage.CounterStore, func(), error) {
	if r.deps.counters != nil {
		return r.deps.counters, func() {}, nil
	}

	store, err := redisstore.NewCounterStore(r.cfg.Storage, r.logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			r.logger.WithError(err).Warn("Failed to close counter store")
		}
	}, nil
}

// contentType maps a --type value onto a content type id. Numeric ids are
// taken as given when no type catalog is configured; natural keys always
// go through the catalog.
func (r *runtime) contentType(ctx context.Context, ref string) (int64, func(), error) {
	ref = strings.TrimSpace(ref)
	id, numErr := strconv.ParseInt(ref, 10, 64)
	if numErr == nil && r.deps.durable == nil && r.cfg.Storage.PostgresURL == "" {
		if id <= 0 {
			return 0, nil, fmt.Errorf("%w: invalid id %d", contenttypes.ErrUnresolvable, id)
		}
		return id, func() {}, nil
	}

	store, closeStore, err := r.durableStore()
	if err != nil {
		return 0, nil, err
	}
	var reference any = ref
	if numErr == nil {
		reference = id
	}
	resolver := contenttypes.NewResolver(store, r.cfg.Storage.ContentTypeCacheSize, r.cfg.Storage.ContentTypeCacheTTL)
	ct, err := resolver.Resolve(ctx, reference)
	if err != nil {
		closeStore()
		return 0, nil, err
	}
	return ct.ID, closeStore, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
