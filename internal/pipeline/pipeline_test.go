package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/flowsentry/flowsentry/internal/model"
	"github.com/flowsentry/flowsentry/internal/store"
)

// fakeConn serves a fixed record set as a paged source.
type fakeConn struct {
	records []model.ConnectionRecord
	err     error
}

func (f *fakeConn) FetchPage(_ context.Context, _ store.Window, limit int, cur *store.Cursor) (store.Page, error) {
	if f.err != nil {
		return store.Page{}, f.err
	}
	offset := 0
	if cur != nil {
		offset = int(cur.ID)
	}
	end := offset + limit
	if end > len(f.records) {
		end = len(f.records)
	}
	page := store.Page{Records: f.records[offset:end]}
	if end < len(f.records) {
		page.Next = &store.Cursor{ID: int64(end)}
	}
	return page, nil
}

// fakeSink records every interaction so tests can assert it was, or was not,
// touched.
type fakeSink struct {
	ensureCalls int
	emitCalls   int
	got         []model.AlertRecord
	failN       int
	ensureErr   error
	emitErr     error
}

func (f *fakeSink) EnsureSchema(context.Context) error {
	f.ensureCalls++
	return f.ensureErr
}

func (f *fakeSink) Emit(_ context.Context, alerts []model.AlertRecord) (int, error) {
	f.emitCalls++
	if f.emitErr != nil {
		return 0, f.emitErr
	}
	f.got = append(f.got, alerts...)
	return f.failN, nil
}

// clusterRecords builds a tight cluster of ordinary TCP flows with small
// deterministic jitter, ending in a short tail of increasingly heavy one-way
// bursts. Real capture windows carry such a tail, and the trained boundary
// settles between the bulk and the tail. Callers slicing off a prefix get
// bulk records only.
func clusterRecords(n int) []model.ConnectionRecord {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recs := make([]model.ConnectionRecord, n)
	tail := n - 4
	for i := range recs {
		if i >= tail {
			recs[i] = burstRecord(i-tail, base.Add(time.Duration(i)*time.Second))
			continue
		}
		recs[i] = model.ConnectionRecord{
			UID:       fmt.Sprintf("C%05d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Duration:  1.0 + float64(i%10)*0.02,
			OrigBytes: int64(100 + i%20),
			RespBytes: int64(80 + i%10),
			OrigPkts:  int64(10 + i%3),
			RespPkts:  int64(8 + i%3),
			Proto:     "tcp",
			SrcIP:     "10.0.0.5",
			SrcPort:   40000 + i,
			DstIP:     "10.0.0.9",
			DstPort:   443,
		}
	}
	return recs
}

// burstRecord returns the j-th record of the heavy tail, j in [0, 4). Each
// one is shorter, heavier, and more one-sided than the one before it.
func burstRecord(j int, ts time.Time) model.ConnectionRecord {
	durations := []float64{0.05, 0.04, 0.02, 0.01}
	origBytes := []int64{100_000, 300_000, 1_000_000, 3_000_000}
	origPkts := []int64{1_000, 3_000, 10_000, 30_000}
	respCounts := []int64{3, 2, 1, 0}
	return model.ConnectionRecord{
		UID:       fmt.Sprintf("Cburst%d", j),
		Timestamp: ts,
		Duration:  durations[j],
		OrigBytes: origBytes[j],
		RespBytes: respCounts[j],
		OrigPkts:  origPkts[j],
		RespPkts:  respCounts[j],
		Proto:     "tcp",
		SrcIP:     "10.0.0.50",
		SrcPort:   50000 + j,
		DstIP:     "198.51.100.8",
		DstPort:   8443,
	}
}

// identicalRecords builds n byte-for-byte equal flows, the degenerate
// zero-variance case.
func identicalRecords(n int) []model.ConnectionRecord {
	recs := make([]model.ConnectionRecord, n)
	for i := range recs {
		recs[i] = model.ConnectionRecord{
			UID:       fmt.Sprintf("C%05d", i),
			Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			Duration:  2.0,
			OrigBytes: 500,
			RespBytes: 500,
			OrigPkts:  5,
			RespPkts:  5,
			Proto:     "udp",
		}
	}
	return recs
}

// outlierRecord is a flow beyond even the heaviest burst in the training
// tail: a sub-millisecond burst pushing a gigabyte one way.
func outlierRecord() model.ConnectionRecord {
	return model.ConnectionRecord{
		UID:       "Coutlier",
		Timestamp: time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
		Duration:  0.001,
		OrigBytes: 1_000_000_000,
		RespBytes: 0,
		OrigPkts:  700_000,
		RespPkts:  0,
		Proto:     "tcp",
		SrcIP:     "10.0.0.66",
		SrcPort:   51515,
		DstIP:     "203.0.113.7",
		DstPort:   4444,
	}
}
