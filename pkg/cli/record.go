package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/insight/pkg/analytics"
	"github.com/platinummonkey/insight/pkg/api"
)

// Execute records the view, counting it as unique when the session has not
// viewed the object within the session TTL.
func (c *RecordCommand) Execute(args []string) error {
	ctx, rt, err := setup(context.Background(), c.globals, c.deps)
	if err != nil {
		return err
	}
	defer rt.close()

	contentTypeID, closeLookup, err := rt.contentType(ctx, c.Type)
	if err != nil {
		return fmt.Errorf("invalid --type: %w", err)
	}
	defer closeLookup()

	counters, closeCounters, err := rt.counterStore()
	if err != nil {
		return err
	}
	defer closeCounters()

	recorder := analytics.NewRecorder(counters, rt.cfg.Storage, rt.logger, nil)
	event := api.ViewEvent{
		ViewID:        analytics.NewViewID(),
		ContentTypeID: contentTypeID,
		ObjectID:      c.ID,
		URL:           c.URL,
		SessionKey:    c.Session,
		IPAddress:     optional(c.IP),
		UserAgent:     optional(c.UserAgent),
		Referrer:      optional(c.Referrer),
		Timestamp:     time.Now().UTC(),
	}
	event.IsUnique = recorder.CheckUniqueView(ctx, event.SessionKey, contentTypeID, c.ID)

	result := recorder.RecordView(ctx, event)
	if rt.json {
		if err := printJSON(rt.out, result); err != nil {
			return err
		}
	} else if result.OK() {
		fmt.Fprintf(rt.out, "Recorded view %s (unique: %t)\n", result.ViewID, result.IsUnique)
		if result.Partial {
			fmt.Fprintln(rt.out, "Warning: some counter updates failed; see the log for the affected keys.")
		}
	}

	if !result.OK() {
		return fmt.Errorf("view not recorded: %s", result.Message)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
