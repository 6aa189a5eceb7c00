package storage

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/insight/pkg/api"
	"github.com/platinummonkey/insight/pkg/contenttypes"
)

var (
	// ErrUnavailable is returned by every operation of a counter store whose
	// connection could not be established.
	ErrUnavailable = errors.New("counter store unavailable")
	// ErrPartialBatch is returned by ExecuteBatch when some, but not all,
	// operations failed. Inspect the per-op results for details.
	ErrPartialBatch = errors.New("batch partially applied")
	// ErrTableNotFound is returned by the durable store when a table it was
	// asked to read does not exist.
	ErrTableNotFound = errors.New("table not found")
)

// OpKind identifies a counter store command inside a batch.
type OpKind int

const (
	OpSet OpKind = iota
	OpIncrement
	OpGet
	OpExists
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpIncrement:
		return "incrby"
	case OpGet:
		return "get"
	case OpExists:
		return "exists"
	default:
		return "unknown"
	}
}

// Op is a single command of a batch. Keys are unprefixed.
type Op struct {
	Kind   OpKind
	Key    string
	Value  string
	Amount int64
	TTL    time.Duration
}

// SetOp sets key to value. A zero ttl means no expiry.
func SetOp(key, value string, ttl time.Duration) Op {
	return Op{Kind: OpSet, Key: key, Value: value, TTL: ttl}
}

// IncrementOp increments the integer stored at key.
func IncrementOp(key string, amount int64) Op {
	return Op{Kind: OpIncrement, Key: key, Amount: amount}
}

// GetOp reads key.
func GetOp(key string) Op {
	return Op{Kind: OpGet, Key: key}
}

// OpResult is the outcome of one Op. Value holds the read value for OpGet,
// Int the new counter for OpIncrement and 1/0 for OpExists.
type OpResult struct {
	Op    Op
	Value string
	Int   int64
	Found bool
	Err   error
}

// CounterStore is the fast, TTL-capable key-value store backing live counters.
// All keys passed in are unprefixed; the implementation applies its namespace.
type CounterStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ok=false when the key does not exist.
	Get(ctx context.Context, key string) (string, bool, error)
	Increment(ctx context.Context, key string, amount int64) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// ExecuteBatch sends all ops in one round trip. It is not a transaction:
	// every op gets its own result and earlier ops are not rolled back.
	ExecuteBatch(ctx context.Context, ops []Op) ([]OpResult, error)
	// Scan returns the unprefixed keys matching pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
	Available() bool
	Ping(ctx context.Context) error
	Close() error
}

// TableDescriptor describes a host table carrying view counters, as found by
// schema introspection.
type TableDescriptor struct {
	Schema   string
	Table    string
	AppLabel string
	Model    string
	// Columns lists which counter columns are present.
	Columns []string
	PK      string
}

// Counter columns a host table may carry.
const (
	ColumnTotalViews    = "total_views"
	ColumnUniqueViews   = "unique_views"
	ColumnFirstViewedAt = "first_viewed_at"
	ColumnLastViewedAt  = "last_viewed_at"
)

// MixinColumns is the full set of counter columns.
var MixinColumns = []string{ColumnTotalViews, ColumnUniqueViews, ColumnFirstViewedAt, ColumnLastViewedAt}

// Has reports whether the table carries column.
func (t TableDescriptor) Has(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// HasAllColumns reports whether every counter column is present.
func (t TableDescriptor) HasAllColumns() bool {
	for _, c := range MixinColumns {
		if !t.Has(c) {
			return false
		}
	}
	return true
}

// QualifiedName returns schema.table, omitting the default schema.
func (t TableDescriptor) QualifiedName() string {
	if t.Schema == "" || t.Schema == "public" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// MixinRow is one row read from a counter-carrying host table. Columns the
// table lacks are zero or nil.
type MixinRow struct {
	PK            int64
	TotalViews    int64
	UniqueViews   int64
	FirstViewedAt *time.Time
	LastViewedAt  *time.Time
}

// LegacyLog is one row of the legacy view log. ContentType holds the raw
// reference as stored: a dotted natural key or a numeric id.
type LegacyLog struct {
	ID          int64
	ContentType string
	PageID      int64
	URL         string
	SessionKey  string
	IPAddress   *string
	UserAgent   *string
	Referrer    *string
	Timestamp   time.Time
	IsUnique    bool
}

// StatisticsDelta is an additive update to an object's durable statistics.
type StatisticsDelta struct {
	ContentTypeID int64
	ObjectID      int64
	TotalViews    int64
	UniqueViews   int64
	ViewedAt      time.Time
}

// Counts reports the row counts of the durable tables.
type Counts struct {
	Events     int64 `json:"events"`
	Statistics int64 `json:"statistics"`
	Registry   int64 `json:"registry"`
}

// StatisticsWriter applies counter deltas to durable statistics.
type StatisticsWriter interface {
	UpsertStatistics(ctx context.Context, delta StatisticsDelta) error
}

// DurableStore is the relational store holding legacy and normalized
// analytics tables. Bulk inserts ignore rows that conflict with existing
// unique keys and return the number of rows actually written.
type DurableStore interface {
	contenttypes.Lookup
	StatisticsWriter

	EnsureSchema(ctx context.Context) error
	Counts(ctx context.Context) (Counts, error)

	// Legacy summary table.
	LegacySummaryTypes(ctx context.Context) ([]string, error)
	CountLegacySummaries(ctx context.Context, contentType string) (int64, error)
	RewriteLegacySummaryType(ctx context.Context, from, to string) (int64, error)

	// Legacy event log, paged by id.
	LegacyLogs(ctx context.Context, afterID int64, limit int) ([]LegacyLog, error)

	// Host tables carrying counter columns.
	DiscoverStatisticsTables(ctx context.Context) ([]TableDescriptor, error)
	MixinRows(ctx context.Context, table TableDescriptor, afterPK int64, limit int) ([]MixinRow, error)

	InsertEvents(ctx context.Context, events []api.ViewEvent) (int64, error)
	InsertStatistics(ctx context.Context, stats []api.ObjectStatistics) (int64, error)
	UpsertRegistry(ctx context.Context, entries []api.RegistryEntry) (int64, error)

	EventContentTypes(ctx context.Context) ([]int64, error)
	StatisticsContentTypes(ctx context.Context) ([]int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Config for the storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs string        `yaml:"postgres_replica_urls"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`

	// Redis config
	RedisURL          string        `yaml:"redis_url"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	RedisMaxRetries   int           `yaml:"redis_max_retries"`
	RedisPoolSize     int           `yaml:"redis_pool_size"`
	RedisDialTimeout  time.Duration `yaml:"redis_dial_timeout"`
	RedisReadTimeout  time.Duration `yaml:"redis_read_timeout"`
	RedisWriteTimeout time.Duration `yaml:"redis_write_timeout"`

	// Counter keys
	KeyPrefix  string        `yaml:"key_prefix"`
	Expiration time.Duration `yaml:"expiration"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	// Content type resolver cache
	ContentTypeCacheSize int           `yaml:"content_type_cache_size"`
	ContentTypeCacheTTL  time.Duration `yaml:"content_type_cache_ttl"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:     20,
		PostgresMinConns:     2,
		PostgresTimeout:      10 * time.Second,
		RedisURL:             "redis://localhost:6379/0",
		RedisDB:              0,
		RedisMaxRetries:      3,
		RedisPoolSize:        10,
		RedisDialTimeout:     5 * time.Second,
		RedisReadTimeout:     2 * time.Second,
		RedisWriteTimeout:    2 * time.Second,
		KeyPrefix:            "insight:",
		Expiration:           24 * time.Hour,
		SessionTTL:           24 * time.Hour,
		ContentTypeCacheSize: 1024,
		ContentTypeCacheTTL:  10 * time.Minute,
	}
}
