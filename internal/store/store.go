package store

import (
	"context"
	"fmt"
	"time"

	"github.com/flowsentry/flowsentry/internal/model"
)

// Package store defines the pipeline's two external collaborators, the
// telemetry store connection records are read from and the alert store
// anomaly notices are written to, plus the SQLite-backed implementation of
// both used in the embedded deployment.

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Validate checks that both bounds are set and ordered.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window bounds required")
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("window end %s before start %s", w.End, w.Start)
	}
	return nil
}

// LastDays returns the window covering the past n days, ending now.
func LastDays(n int, now time.Time) Window {
	return Window{Start: now.Add(-time.Duration(n) * 24 * time.Hour), End: now}
}

// LastMinutes returns the window covering the past n minutes, ending now.
func LastMinutes(n int, now time.Time) Window {
	return Window{Start: now.Add(-time.Duration(n) * time.Minute), End: now}
}

// Cursor is an opaque continuation token for paged fetches. Keyset pagination
// on (timestamp, id) keeps pages stable while the collector keeps writing.
type Cursor struct {
	Timestamp time.Time
	ID        int64
}

// Page is one bounded slice of a fetch. A nil Next signals exhaustion.
type Page struct {
	Records []model.ConnectionRecord
	Next    *Cursor
}

// ConnSource serves connection records in most-recent-first pages.
type ConnSource interface {
	// FetchPage returns up to limit records inside w, starting after cur
	// (nil for the first page).
	FetchPage(ctx context.Context, w Window, limit int, cur *Cursor) (Page, error)
}

// AlertSink receives anomaly alerts.
type AlertSink interface {
	// EnsureSchema provisions the alert store's schema. Idempotent.
	EnsureSchema(ctx context.Context) error

	// Emit writes alerts in one batch, partitioned by UTC emission date.
	// It returns how many writes failed; an empty batch is a no-op.
	Emit(ctx context.Context, alerts []model.AlertRecord) (failed int, err error)
}
