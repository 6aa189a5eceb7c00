// Package storage defines the persistence contracts of insight.
//
// # Overview
//
// Two stores back the system:
//
//   - CounterStore: a fast, TTL-capable key-value store (Redis) holding the live
//     view counters, session view marks and raw event payloads. It is written on
//     the request path and must never block it for long.
//   - DurableStore: the relational database (PostgreSQL) holding the normalized
//     event log, per-object statistics and the content type registry, plus the
//     legacy tables the migration reads from.
//
// Implementations live in the redis and postgres subpackages.
//
// # Batches
//
// CounterStore.ExecuteBatch pipelines a list of Op values in one round trip.
// It is not atomic. Each op reports its own OpResult, and a batch where only
// some ops failed returns ErrPartialBatch:
//
//	results, err := store.ExecuteBatch(ctx, []storage.Op{
//		storage.SetOp("3f1c...", payload, 24*time.Hour),
//		storage.IncrementOp("counter:7:42", 1),
//	})
//	if errors.Is(err, storage.ErrPartialBatch) {
//		for _, r := range results {
//			if r.Err != nil {
//				// inspect r.Op
//			}
//		}
//	}
//
// # Unavailable Store
//
// A counter store whose initial ping fails is still returned, in the
// unavailable state. Every call then fails fast with ErrUnavailable so
// callers can fall back to their documented defaults.
package storage
