package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/model"
)

func TestExtract_SchemaWidthAndOneHot(t *testing.T) {
	records := []model.ConnectionRecord{
		{Proto: "tcp"},
		{Proto: "udp"},
		{Proto: "icmp"},
		{Proto: "other"},
		{Proto: ""},
		{Proto: "TCP", Duration: 3, OrigBytes: 10},
	}

	for _, rec := range records {
		vec := Extract(rec)
		require.Len(t, vec, NumFeatures)

		oneHot := vec[5] + vec[6] + vec[7]
		assert.LessOrEqual(t, oneHot, 1.0, "proto flags must be mutually exclusive")
	}
}

func TestExtract_ZeroDurationRates(t *testing.T) {
	vec := Extract(model.ConnectionRecord{
		Duration:  0,
		OrigBytes: 5000,
		RespBytes: 3000,
		OrigPkts:  40,
		RespPkts:  30,
	})

	// orig_Bps, resp_Bps, orig_pps, resp_pps
	for _, i := range []int{10, 11, 12, 13} {
		assert.Zero(t, vec[i], "rate column %s must be 0 when duration is 0", Columns[i])
	}
}

func TestExtract_NeutralByteRatio(t *testing.T) {
	vec := Extract(model.ConnectionRecord{OrigBytes: 0, RespBytes: 0})
	assert.Equal(t, 0.5, vec[14])
}

func TestExtract_MalformedInputCoercedToZero(t *testing.T) {
	vec := Extract(model.ConnectionRecord{
		Duration:  math.NaN(),
		OrigBytes: -100,
		RespBytes: 50,
	})

	assert.Zero(t, vec[0])
	assert.Zero(t, vec[1])
	assert.Equal(t, 50.0, vec[2])
	assert.Equal(t, 50.0, vec[8], "total_bytes computed after coercion")
	assert.Zero(t, vec[14], "orig contributed nothing to the total")
}

// One-way TCP burst with no duration: all rates zero, full byte ratio.
func TestExtract_ScenarioOneWayBurst(t *testing.T) {
	vec := Extract(model.ConnectionRecord{
		Duration:  0,
		OrigBytes: 100,
		RespBytes: 0,
		Proto:     "tcp",
	})

	want := []float64{0, 100, 0, 0, 0, 1, 0, 0, 100, 0, 0, 0, 0, 0, 1.0}
	assert.Equal(t, want, vec)
}

// Symmetric UDP exchange over 10 seconds.
func TestExtract_ScenarioSymmetricExchange(t *testing.T) {
	vec := Extract(model.ConnectionRecord{
		Duration:  10,
		OrigBytes: 1000,
		RespBytes: 1000,
		OrigPkts:  10,
		RespPkts:  10,
		Proto:     "udp",
	})

	assert.Equal(t, 100.0, vec[10], "orig_Bps")
	assert.Equal(t, 100.0, vec[11], "resp_Bps")
	assert.Equal(t, 1.0, vec[12], "orig_pps")
	assert.Equal(t, 1.0, vec[13], "resp_pps")
	assert.Equal(t, 0.5, vec[14], "byte_ratio_orig_to_total")
	assert.Equal(t, 1.0, vec[6], "proto_udp")
	assert.Zero(t, vec[5])
	assert.Zero(t, vec[7])
}

func TestExtractBatch_PreservesOrderAndEmptyInput(t *testing.T) {
	m := ExtractBatch(nil)
	assert.Zero(t, m.NumRows())
	assert.Equal(t, Columns, m.Columns, "schema defined even for empty batch")

	m = ExtractBatch([]model.ConnectionRecord{
		{OrigBytes: 1},
		{OrigBytes: 2},
		{OrigBytes: 3},
	})
	require.Equal(t, 3, m.NumRows())
	for i, row := range m.Rows {
		assert.Equal(t, float64(i+1), row[1])
	}
}

func TestSelectForModel_ZeroFillsMissingColumns(t *testing.T) {
	in := Matrix{
		Columns: []string{"resp_bytes", "duration", "unexpected"},
		Rows: [][]float64{
			{7, 2, 99},
			{8, 3, 99},
		},
	}

	out := SelectForModel(in)
	require.Equal(t, Columns, out.Columns)
	require.Equal(t, 2, out.NumRows())

	assert.Equal(t, 2.0, out.Rows[0][0], "duration reordered into place")
	assert.Equal(t, 7.0, out.Rows[0][2], "resp_bytes reordered into place")
	assert.Zero(t, out.Rows[0][1], "missing orig_bytes zero-filled")
	for c := 3; c < NumFeatures; c++ {
		assert.Zero(t, out.Rows[0][c])
	}
}

func TestSelectForModel_Idempotent(t *testing.T) {
	m := ExtractBatch([]model.ConnectionRecord{
		{Duration: 10, OrigBytes: 1000, RespBytes: 1000, OrigPkts: 10, RespPkts: 10, Proto: "udp"},
		{Duration: 0, OrigBytes: 100, Proto: "tcp"},
	})

	once := SelectForModel(m)
	twice := SelectForModel(once)
	assert.Equal(t, once, twice)
}
