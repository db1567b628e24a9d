package model

import (
	"encoding/json"
	"time"
)

// ConnectionRecord is one summarized network flow as produced by the capture
// collaborator. Records are read-only to this pipeline: missing numeric fields
// arrive as zero values, missing categorical fields as empty strings.
type ConnectionRecord struct {
	UID       string    `json:"uid"`
	Timestamp time.Time `json:"timestamp"`

	Duration  float64 `json:"duration"` // seconds
	OrigBytes int64   `json:"orig_bytes"`
	RespBytes int64   `json:"resp_bytes"`
	OrigPkts  int64   `json:"orig_pkts"`
	RespPkts  int64   `json:"resp_pkts"`

	Proto   string `json:"proto"` // tcp | udp | icmp | other
	Service string `json:"service,omitempty"`

	SrcIP   string `json:"src_ip"`
	SrcPort int    `json:"src_port"`
	DstIP   string `json:"dst_ip"`
	DstPort int    `json:"dst_port"`

	// Raw is the original source document as stored by the collector.
	// Carried through untouched so alerts can embed it for audit.
	Raw json.RawMessage `json:"-"`
}

// AlertRecord is one anomaly notice emitted by the predictor. The key fields
// of the originating record are denormalized onto the alert so it is useful
// without a join; the full original record rides along as an opaque payload.
type AlertRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	AlertType    string    `json:"alert_type"`
	AnomalyScore float64   `json:"anomaly_score"` // lower / more negative = more anomalous
	Description  string    `json:"description"`

	SrcIP     string  `json:"src_ip"`
	SrcPort   int     `json:"src_port"`
	DstIP     string  `json:"dst_ip"`
	DstPort   int     `json:"dst_port"`
	Proto     string  `json:"proto"`
	Service   string  `json:"service,omitempty"`
	Duration  float64 `json:"duration"`
	OrigBytes int64   `json:"orig_bytes"`
	RespBytes int64   `json:"resp_bytes"`

	OriginalEventUID       string          `json:"original_event_uid"`
	OriginalEventTimestamp time.Time       `json:"original_event_timestamp"`
	OriginalEvent          json.RawMessage `json:"original_event,omitempty"`
}

// AlertTypeConnectionAnomaly identifies this pipeline as the alert source.
const AlertTypeConnectionAnomaly = "ConnectionAnomaly"
