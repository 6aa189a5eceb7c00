// Package api holds the data types shared by the recorder, the flusher, the
// stats reader and the migration.
//
// # Views
//
// A ViewEvent is one page view of a tracked object, identified by the pair
// (ContentTypeID, ObjectID). The web layer builds it and hands it to the
// recorder:
//
//	event := api.ViewEvent{
//		ViewID:        analytics.NewViewID(),
//		ContentTypeID: 7,
//		ObjectID:      42,
//		URL:           "/blog/42/",
//		SessionKey:    session,
//		Timestamp:     time.Now().UTC(),
//	}
//	event.IsUnique = recorder.CheckUniqueView(ctx, session, 7, 42)
//	result := recorder.RecordView(ctx, event)
//
// IPAddress, UserAgent and Referrer are optional and serialize as absent when
// nil.
//
// # Results
//
// RecordView never returns a Go error. RecordResult carries the outcome:
//
//	if !result.OK() {
//		log.WithField("reason", result.Message).Warn("View not counted")
//	}
//
// Partial is set when the counter increments landed but a secondary write,
// such as the raw payload, did not.
//
// # Statistics
//
// ObjectStatistics is the durable, flushed form of the counters with at most
// one row per object. Stats is the live form read straight from the counter
// store. RegistryEntry marks a content type as trackable and is created by
// the migration for every content type it saw.
package api
