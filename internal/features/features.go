package features

import (
	"math"
	"strings"

	"github.com/flowsentry/flowsentry/internal/model"
)

// Package features defines the canonical feature vector for connection
// records and converts raw records into it.
//
// The column set and order are a contract: the scaler and the novelty model
// both index features by position, so every vector produced here has exactly
// these columns in exactly this order, regardless of which optional fields
// the raw record carried. All defaulting policy lives in this package;
// downstream stages may assume fully populated vectors.

// Columns is the fixed feature schema, in model order.
var Columns = []string{
	"duration",
	"orig_bytes",
	"resp_bytes",
	"orig_pkts",
	"resp_pkts",
	"proto_tcp",
	"proto_udp",
	"proto_icmp",
	"total_bytes",
	"total_pkts",
	"orig_Bps",
	"resp_Bps",
	"orig_pps",
	"resp_pps",
	"byte_ratio_orig_to_total",
}

// NumFeatures is the width of every feature vector.
const NumFeatures = 15

// Matrix is an ordered batch of feature vectors. Rows follow input order;
// columns are named so a partially populated batch can be reconciled against
// the schema with SelectForModel.
type Matrix struct {
	Columns []string
	Rows    [][]float64
}

// NumRows returns the number of vectors in the matrix.
func (m Matrix) NumRows() int { return len(m.Rows) }

// sanitize coerces null-like numeric values (NaN, ±Inf, negatives) to zero
// before any arithmetic. Connection counters are non-negative by definition.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Extract converts one connection record into a feature vector. It is total:
// any malformed or missing input coerces to zero and the result always has
// exactly NumFeatures values in schema order.
func Extract(rec model.ConnectionRecord) []float64 {
	duration := sanitize(rec.Duration)
	origBytes := sanitize(float64(rec.OrigBytes))
	respBytes := sanitize(float64(rec.RespBytes))
	origPkts := sanitize(float64(rec.OrigPkts))
	respPkts := sanitize(float64(rec.RespPkts))

	var protoTCP, protoUDP, protoICMP float64
	switch strings.ToLower(strings.TrimSpace(rec.Proto)) {
	case "tcp":
		protoTCP = 1
	case "udp":
		protoUDP = 1
	case "icmp":
		protoICMP = 1
	}

	totalBytes := origBytes + respBytes
	totalPkts := origPkts + respPkts

	var origBps, respBps, origPps, respPps float64
	if duration > 0 {
		origBps = origBytes / duration
		respBps = respBytes / duration
		origPps = origPkts / duration
		respPps = respPkts / duration
	}

	// 0.5 is a deliberate neutral value for byteless flows, not a
	// missing-data artifact.
	byteRatio := 0.5
	if totalBytes > 0 {
		byteRatio = origBytes / totalBytes
	}

	return []float64{
		duration,
		origBytes,
		respBytes,
		origPkts,
		respPkts,
		protoTCP,
		protoUDP,
		protoICMP,
		totalBytes,
		totalPkts,
		origBps,
		respBps,
		origPps,
		respPps,
		byteRatio,
	}
}

// ExtractBatch applies Extract to each record, preserving order. An empty
// input yields an empty matrix with the schema still defined.
func ExtractBatch(recs []model.ConnectionRecord) Matrix {
	rows := make([][]float64, len(recs))
	for i, rec := range recs {
		rows[i] = Extract(rec)
	}
	return Matrix{Columns: append([]string(nil), Columns...), Rows: rows}
}

// SelectForModel reconciles an arbitrary batch against the schema: the result
// has exactly the schema columns in schema order, zero-filling any column the
// input omitted and dropping any extras. Applying it twice yields the same
// matrix as applying it once.
func SelectForModel(m Matrix) Matrix {
	index := make(map[string]int, len(m.Columns))
	for i, name := range m.Columns {
		index[name] = i
	}

	rows := make([][]float64, len(m.Rows))
	for r, in := range m.Rows {
		out := make([]float64, NumFeatures)
		for c, name := range Columns {
			if src, ok := index[name]; ok && src < len(in) {
				out[c] = in[src]
			}
		}
		rows[r] = out
	}
	return Matrix{Columns: append([]string(nil), Columns...), Rows: rows}
}
