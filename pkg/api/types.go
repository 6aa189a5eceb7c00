package api

import "time"

// ViewEvent is a single page view of a tracked object. It is the payload the
// web layer hands to the recorder and the row shape of the durable event table.
type ViewEvent struct {
	ID            int64     `json:"id,omitempty"`
	ViewID        string    `json:"view_id"`
	ContentTypeID int64     `json:"content_type"`
	ObjectID      int64     `json:"object_id"`
	URL           string    `json:"url"`
	SessionKey    string    `json:"session_key"`
	IPAddress     *string   `json:"ip_address,omitempty"`
	UserAgent     *string   `json:"user_agent,omitempty"`
	Referrer      *string   `json:"referrer,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	IsUnique      bool      `json:"is_unique"`
}

// ObjectStatistics holds the aggregated counters of one tracked object.
// There is at most one row per (ContentTypeID, ObjectID).
type ObjectStatistics struct {
	ContentTypeID int64      `json:"content_type"`
	ObjectID      int64      `json:"object_id"`
	TotalViews    int64      `json:"total_views"`
	UniqueViews   int64      `json:"unique_views"`
	FirstViewedAt *time.Time `json:"first_viewed_at,omitempty"`
	LastViewedAt  *time.Time `json:"last_viewed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RegistryEntry marks a content type as trackable.
type RegistryEntry struct {
	ContentTypeID      int64     `json:"content_type"`
	Enabled            bool      `json:"enabled"`
	TrackAnonymous     bool      `json:"track_anonymous"`
	TrackAuthenticated bool      `json:"track_authenticated"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewRegistryEntry returns an enabled entry tracking every kind of visitor.
func NewRegistryEntry(contentTypeID int64) RegistryEntry {
	now := time.Now().UTC()
	return RegistryEntry{
		ContentTypeID:      contentTypeID,
		Enabled:            true,
		TrackAnonymous:     true,
		TrackAuthenticated: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Stats is the live view of an object's counters.
type Stats struct {
	TotalViews  int64 `json:"total_views"`
	UniqueViews int64 `json:"unique_views"`
}

// Record statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RecordResult is returned for every recorded view. Recording never panics or
// returns a Go error; failures are reported through Status and Message.
type RecordResult struct {
	Status   string `json:"status"`
	ViewID   string `json:"view_id,omitempty"`
	IsUnique bool   `json:"is_unique"`
	// Partial is set when the pipelined write only partly succeeded.
	Partial bool   `json:"partial,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the view was counted.
func (r RecordResult) OK() bool {
	return r.Status == StatusSuccess
}
