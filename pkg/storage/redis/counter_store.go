package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/storage"
)

// CounterStore is a storage.CounterStore on Redis. All keys are namespaced
// with the configured prefix.
type CounterStore struct {
	client    *goredis.Client
	config    storage.Config
	prefix    string
	available bool
	logger    logrus.FieldLogger
}

var _ storage.CounterStore = (*CounterStore)(nil)

// NewCounterStore connects to Redis and pings it. If the ping fails the store
// is returned in the unavailable state instead of an error, so callers keep
// running with default values. Only an unparseable URL is an error.
func NewCounterStore(config storage.Config, logger logrus.FieldLogger) (*CounterStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	opts, err := goredis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	// Short timeouts keep the request path from stalling on a slow store
	opts.DialTimeout = durationOr(config.RedisDialTimeout, 5*time.Second)
	opts.ReadTimeout = durationOr(config.RedisReadTimeout, 2*time.Second)
	opts.WriteTimeout = durationOr(config.RedisWriteTimeout, 2*time.Second)
	opts.PoolTimeout = opts.ReadTimeout + time.Second

	store := &CounterStore{
		client: goredis.NewClient(opts),
		config: config,
		prefix: config.KeyPrefix,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if err := store.client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).WithField("addr", opts.Addr).Error("Counter store unavailable, view counting is disabled")
		_ = store.client.Close()
		store.client = nil
		return store, nil
	}

	store.available = true
	return store, nil
}

// Unavailable returns a store in the unavailable state.
func Unavailable(prefix string) *CounterStore {
	return &CounterStore{prefix: prefix, logger: logrus.New()}
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func (s *CounterStore) key(k string) string {
	return s.prefix + k
}

// Available reports whether the store connected at construction.
func (s *CounterStore) Available() bool {
	return s.available
}

// Set stores value under key. A zero ttl keeps the key forever.
func (s *CounterStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !s.available {
		return storage.ErrUnavailable
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get returns the value stored at key. ok is false when the key is absent.
func (s *CounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	if !s.available {
		return "", false, storage.ErrUnavailable
	}
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err == goredis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return value, true, nil
}

// Increment adds amount to the counter at key and returns the new value.
func (s *CounterStore) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	if !s.available {
		return 0, storage.ErrUnavailable
	}
	value, err := s.client.IncrBy(ctx, s.key(key), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrby failed: %w", err)
	}
	return value, nil
}

// Exists reports whether key is present.
func (s *CounterStore) Exists(ctx context.Context, key string) (bool, error) {
	if !s.available {
		return false, storage.ErrUnavailable
	}
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// ExecuteBatch pipelines ops in a single round trip. The pipeline is not
// wrapped in MULTI, so ops that succeeded stay applied when others fail.
func (s *CounterStore) ExecuteBatch(ctx context.Context, ops []storage.Op) ([]storage.OpResult, error) {
	if !s.available {
		return nil, storage.ErrUnavailable
	}
	if len(ops) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]goredis.Cmder, len(ops))
	for i, op := range ops {
		key := s.key(op.Key)
		switch op.Kind {
		case storage.OpSet:
			cmds[i] = pipe.Set(ctx, key, op.Value, op.TTL)
		case storage.OpIncrement:
			cmds[i] = pipe.IncrBy(ctx, key, op.Amount)
		case storage.OpGet:
			cmds[i] = pipe.Get(ctx, key)
		case storage.OpExists:
			cmds[i] = pipe.Exists(ctx, key)
		default:
			return nil, fmt.Errorf("unsupported batch op %s", op.Kind)
		}
	}

	// Exec reports the first failing command; per-command errors are read below.
	_, _ = pipe.Exec(ctx)

	results := make([]storage.OpResult, len(ops))
	failed := 0
	var firstErr error
	for i, cmd := range cmds {
		res := storage.OpResult{Op: ops[i]}
		switch c := cmd.(type) {
		case *goredis.StatusCmd:
			res.Err = c.Err()
		case *goredis.IntCmd:
			res.Int, res.Err = c.Result()
			res.Found = ops[i].Kind == storage.OpExists && res.Int > 0
		case *goredis.StringCmd:
			value, err := c.Result()
			switch {
			case err == goredis.Nil:
			case err != nil:
				res.Err = err
			default:
				res.Value = value
				res.Found = true
			}
		}
		if res.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.Err
			}
		}
		results[i] = res
	}

	switch {
	case failed == 0:
		return results, nil
	case failed == len(ops):
		return results, fmt.Errorf("redis pipeline failed: %w", firstErr)
	default:
		return results, fmt.Errorf("%w: %d of %d ops failed: %v", storage.ErrPartialBatch, failed, len(ops), firstErr)
	}
}

// Scan returns the unprefixed keys matching pattern.
func (s *CounterStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if !s.available {
		return nil, storage.ErrUnavailable
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, s.key(pattern), 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return keys, nil
}

// Ping checks Redis connectivity
func (s *CounterStore) Ping(ctx context.Context) error {
	if !s.available {
		return storage.ErrUnavailable
	}
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *CounterStore) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.available = false
	if err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
