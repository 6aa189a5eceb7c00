package analytics

import (
	"fmt"
	"strconv"
	"strings"
)

// Counter store key layout. The store adds its namespace prefix.
const (
	counterPrefix        = "counter:"
	uniqueCounterPrefix  = "unique_counter:"
	flushedPrefix        = "flushed_counter:"
	flushedUniquePrefix  = "flushed_unique_counter:"
	sessionPrefix        = "session:"
	counterScanPattern   = counterPrefix + "*"
	sessionPageSeparator = ":page:"
)

// CounterKey is the key of the total-views counter of an object.
func CounterKey(contentTypeID, objectID int64) string {
	return fmt.Sprintf("%s%d:%d", counterPrefix, contentTypeID, objectID)
}

// UniqueCounterKey is the key of the unique-views counter of an object.
func UniqueCounterKey(contentTypeID, objectID int64) string {
	return fmt.Sprintf("%s%d:%d", uniqueCounterPrefix, contentTypeID, objectID)
}

// SessionKey is the key of the session-view-mark of a session on an object.
func SessionKey(sessionKey string, contentTypeID, objectID int64) string {
	return fmt.Sprintf("%s%s%s%d:%d", sessionPrefix, sessionKey, sessionPageSeparator, contentTypeID, objectID)
}

// flushedKey and flushedUniqueKey hold the counter values already written to
// durable statistics.
func flushedKey(contentTypeID, objectID int64) string {
	return fmt.Sprintf("%s%d:%d", flushedPrefix, contentTypeID, objectID)
}

func flushedUniqueKey(contentTypeID, objectID int64) string {
	return fmt.Sprintf("%s%d:%d", flushedUniquePrefix, contentTypeID, objectID)
}

// parseCounterKey extracts the object from a "counter:<ct>:<obj>" key.
func parseCounterKey(key string) (contentTypeID, objectID int64, err error) {
	rest := strings.TrimPrefix(key, counterPrefix)
	if rest == key {
		return 0, 0, fmt.Errorf("not a counter key: %q", key)
	}
	ct, obj, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed counter key: %q", key)
	}
	if contentTypeID, err = strconv.ParseInt(ct, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed content type in %q: %w", key, err)
	}
	if objectID, err = strconv.ParseInt(obj, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed object id in %q: %w", key, err)
	}
	return contentTypeID, objectID, nil
}

// parseCount reads a counter value; absent or malformed values count as 0.
func parseCount(value string, ok bool) int64 {
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
