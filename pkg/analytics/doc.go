// Package analytics records page views into live counters and reads them back.
//
// # Overview
//
// Every view is written to the counter store as one pipelined batch: the
// serialized event under its view id, the per-object total counter and, for
// views that are unique within their session, a session mark plus the unique
// counter. Counters are cheap to read and are periodically flushed into
// durable per-object statistics by the Aggregator.
//
// # Keys
//
// All keys live under the store's namespace prefix:
//
//	counter:<content_type>:<object>                 total views
//	unique_counter:<content_type>:<object>          unique views
//	session:<session>:page:<content_type>:<object>  unique-view mark
//	<view id>                                       serialized event
//
// # Usage Example
//
// Record a view:
//
//	recorder := analytics.NewRecorder(store, cfg, logger, metrics)
//	unique := recorder.CheckUniqueView(ctx, session, contentType, objectID)
//	result := recorder.RecordView(ctx, api.ViewEvent{
//		ViewID:        analytics.NewViewID(),
//		ContentTypeID: contentType,
//		ObjectID:      objectID,
//		SessionKey:    session,
//		IsUnique:      unique,
//	})
//
// Read the counters:
//
//	stats := analytics.NewStatsReader(store, logger, metrics).GetStats(ctx, contentType, objectID)
//
// # Failure Behavior
//
// When the counter store is unavailable recording fails with a descriptive
// result and reads return zero counts. A batch that applied only partly is
// reported as a success flagged Partial as long as the total counter moved.
package analytics
