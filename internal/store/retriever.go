package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/flowsentry/flowsentry/internal/model"
)

const defaultPageSize = 1000

// Retriever fetches a bounded, time-windowed batch of connection records,
// paging through the backing store transparently. The loop terminates on
// store exhaustion or the sample cap, whichever comes first; the cap is the
// hard upper bound even against a store that never signals exhaustion.
type Retriever struct {
	src      ConnSource
	pageSize int
	log      *zap.Logger
}

// NewRetriever wraps src. pageSize <= 0 takes the default.
func NewRetriever(src ConnSource, pageSize int, log *zap.Logger) *Retriever {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{src: src, pageSize: pageSize, log: log}
}

// Fetch returns up to maxSamples records inside w, most recent first. An
// error means the store was unreachable mid-fetch; the caller must treat the
// accompanying empty result as "nothing retrieved", not as zero matches.
func (r *Retriever) Fetch(ctx context.Context, w Window, maxSamples int) ([]model.ConnectionRecord, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}
	if maxSamples < 1 {
		return nil, fmt.Errorf("fetch: maxSamples must be >= 1, got %d", maxSamples)
	}

	var (
		records []model.ConnectionRecord
		cursor  *Cursor
		pages   int
	)
	for {
		limit := r.pageSize
		if remaining := maxSamples - len(records); remaining < limit {
			limit = remaining
		}

		page, err := r.src.FetchPage(ctx, w, limit, cursor)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		pages++

		if page.Next == nil || len(page.Records) == 0 || len(records) >= maxSamples {
			break
		}
		cursor = page.Next
	}

	if len(records) > maxSamples {
		records = records[:maxSamples]
	}

	r.log.Debug("fetched telemetry window",
		zap.Time("start", w.Start),
		zap.Time("end", w.End),
		zap.Int("records", len(records)),
		zap.Int("pages", pages),
		zap.Int("max_samples", maxSamples),
	)
	return records, nil
}
