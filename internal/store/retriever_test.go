package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/model"
)

// fakeSource serves a fixed record set in pages, tracking how many calls it
// takes. When bottomless is set it always hands back a continuation cursor,
// modelling a store that never signals exhaustion.
type fakeSource struct {
	records    []model.ConnectionRecord
	bottomless bool
	calls      int
	err        error
}

func (f *fakeSource) FetchPage(_ context.Context, _ Window, limit int, cur *Cursor) (Page, error) {
	f.calls++
	if f.err != nil {
		return Page{}, f.err
	}
	offset := 0
	if cur != nil {
		offset = int(cur.ID)
	}
	end := offset + limit
	if end > len(f.records) {
		end = len(f.records)
	}
	page := Page{Records: f.records[offset:end]}
	if f.bottomless || end < len(f.records) {
		page.Next = &Cursor{ID: int64(end)}
	}
	if !f.bottomless && end == len(f.records) {
		page.Next = nil
	}
	return page, nil
}

func fakeRecords(n int) []model.ConnectionRecord {
	recs := make([]model.ConnectionRecord, n)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range recs {
		recs[i] = model.ConnectionRecord{
			UID:       fmt.Sprintf("C%04d", i),
			Timestamp: base.Add(-time.Duration(i) * time.Second),
		}
	}
	return recs
}

func testWindow() Window {
	end := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	return Window{Start: end.Add(-time.Hour), End: end}
}

func TestRetriever_FetchAllWhenUnderCap(t *testing.T) {
	src := &fakeSource{records: fakeRecords(35)}
	r := NewRetriever(src, 10, nil)

	got, err := r.Fetch(context.Background(), testWindow(), 1000)
	require.NoError(t, err)
	assert.Len(t, got, 35)
	assert.Equal(t, 4, src.calls)
	assert.Equal(t, "C0000", got[0].UID, "page order must be preserved")
	assert.Equal(t, "C0034", got[34].UID)
}

func TestRetriever_CapStopsPaging(t *testing.T) {
	src := &fakeSource{records: fakeRecords(100)}
	r := NewRetriever(src, 10, nil)

	got, err := r.Fetch(context.Background(), testWindow(), 25)
	require.NoError(t, err)
	assert.Len(t, got, 25)
	assert.Equal(t, 3, src.calls, "must stop paging once the cap is hit")
}

func TestRetriever_CapBoundsBottomlessSource(t *testing.T) {
	src := &fakeSource{records: fakeRecords(50), bottomless: true}
	r := NewRetriever(src, 10, nil)

	got, err := r.Fetch(context.Background(), testWindow(), 30)
	require.NoError(t, err)
	assert.Len(t, got, 30, "cap is the hard bound even if the source keeps offering pages")
}

func TestRetriever_BottomlessExhaustedStopsOnEmptyPage(t *testing.T) {
	src := &fakeSource{records: fakeRecords(15), bottomless: true}
	r := NewRetriever(src, 10, nil)

	got, err := r.Fetch(context.Background(), testWindow(), 1000)
	require.NoError(t, err)
	assert.Len(t, got, 15, "an empty page ends the loop despite a live cursor")
}

func TestRetriever_EmptyStore(t *testing.T) {
	src := &fakeSource{}
	r := NewRetriever(src, 10, nil)

	got, err := r.Fetch(context.Background(), testWindow(), 100)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, src.calls)
}

func TestRetriever_PropagatesSourceError(t *testing.T) {
	boom := errors.New("store unreachable")
	src := &fakeSource{err: boom}
	r := NewRetriever(src, 10, nil)

	_, err := r.Fetch(context.Background(), testWindow(), 100)
	assert.ErrorIs(t, err, boom)
}

func TestRetriever_RejectsBadArguments(t *testing.T) {
	r := NewRetriever(&fakeSource{}, 10, nil)

	_, err := r.Fetch(context.Background(), Window{}, 100)
	assert.Error(t, err, "unset window bounds")

	_, err = r.Fetch(context.Background(), testWindow(), 0)
	assert.Error(t, err, "non-positive sample cap")
}
