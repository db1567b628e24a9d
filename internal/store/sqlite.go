package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/flowsentry/flowsentry/internal/model"
)

// migrations for the telemetry side of the store. The alert schema is
// provisioned separately through EnsureSchema, which the emitter owns.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conn_records (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    uid         TEXT NOT NULL,
    ts_ns       INTEGER NOT NULL, -- UTC nanoseconds; keyset pagination needs a total order
    duration    REAL NOT NULL DEFAULT 0,
    orig_bytes  INTEGER NOT NULL DEFAULT 0,
    resp_bytes  INTEGER NOT NULL DEFAULT 0,
    orig_pkts   INTEGER NOT NULL DEFAULT 0,
    resp_pkts   INTEGER NOT NULL DEFAULT 0,
    proto       TEXT NOT NULL DEFAULT '',
    service     TEXT NOT NULL DEFAULT '',
    src_ip      TEXT NOT NULL DEFAULT '',
    src_port    INTEGER NOT NULL DEFAULT 0,
    dst_ip      TEXT NOT NULL DEFAULT '',
    dst_port    INTEGER NOT NULL DEFAULT 0,
    raw         TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_conn_records_ts ON conn_records(ts_ns DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_conn_records_uid ON conn_records(uid);
`,
	},
}

// DB is the SQLite-backed implementation of both store collaborators.
type DB struct {
	db        *sql.DB
	indexBase string
}

// Open opens (or creates) the store at path and applies pending migrations.
// Pass ":memory:" for an in-memory store. indexBase names the alert
// partition family (partitions are "<indexBase>-YYYY.MM.DD").
func Open(path, indexBase string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{db: db, indexBase: indexBase}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	_, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := d.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}
		if _, err := d.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := d.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// InsertRecords writes collector output. The raw source document rides along
// so alerts can embed it verbatim later.
func (d *DB) InsertRecords(ctx context.Context, recs []model.ConnectionRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range recs {
		raw := rec.Raw
		if len(raw) == 0 {
			blob, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal record %s: %w", rec.UID, err)
			}
			raw = blob
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO conn_records(uid, ts_ns, duration, orig_bytes, resp_bytes, orig_pkts, resp_pkts, proto, service, src_ip, src_port, dst_ip, dst_port, raw)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        `,
			rec.UID, rec.Timestamp.UTC().UnixNano(), rec.Duration,
			rec.OrigBytes, rec.RespBytes, rec.OrigPkts, rec.RespPkts,
			rec.Proto, rec.Service,
			rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DstPort,
			string(raw),
		)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", rec.UID, err)
		}
	}
	return tx.Commit()
}

// FetchPage returns up to limit records inside w, most recent first,
// continuing after cur when set.
func (d *DB) FetchPage(ctx context.Context, w Window, limit int, cur *Cursor) (Page, error) {
	if limit <= 0 {
		return Page{}, fmt.Errorf("fetch page: limit must be positive")
	}

	query := `SELECT id, uid, ts_ns, duration, orig_bytes, resp_bytes, orig_pkts, resp_pkts, proto, service, src_ip, src_port, dst_ip, dst_port, raw
        FROM conn_records
        WHERE ts_ns >= ? AND ts_ns < ?`
	args := []any{w.Start.UTC().UnixNano(), w.End.UTC().UnixNano()}

	if cur != nil {
		query += ` AND (ts_ns < ? OR (ts_ns = ? AND id < ?))`
		curNs := cur.Timestamp.UTC().UnixNano()
		args = append(args, curNs, curNs, cur.ID)
	}
	query += ` ORDER BY ts_ns DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query conn_records: %w", err)
	}
	defer rows.Close()

	var page Page
	var lastID int64
	var lastTS time.Time
	for rows.Next() {
		var rec model.ConnectionRecord
		var id, tsNs int64
		var raw string
		if err := rows.Scan(&id, &rec.UID, &tsNs, &rec.Duration,
			&rec.OrigBytes, &rec.RespBytes, &rec.OrigPkts, &rec.RespPkts,
			&rec.Proto, &rec.Service,
			&rec.SrcIP, &rec.SrcPort, &rec.DstIP, &rec.DstPort, &raw); err != nil {
			return Page{}, fmt.Errorf("scan conn_record: %w", err)
		}
		rec.Timestamp = time.Unix(0, tsNs).UTC()
		rec.Raw = json.RawMessage(raw)
		page.Records = append(page.Records, rec)
		lastID, lastTS = id, rec.Timestamp
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate conn_records: %w", err)
	}

	// A full page may have more behind it; a short page is exhaustion.
	if len(page.Records) == limit {
		page.Next = &Cursor{Timestamp: lastTS, ID: lastID}
	}
	return page, nil
}

// EnsureSchema provisions the alert table and its indexes. The embedded
// original event is deliberately left unindexed: it is an opaque audit
// payload whose shape is unbounded.
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS ml_alerts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    part            TEXT NOT NULL,    -- "<index-base>-YYYY.MM.DD", UTC emission date
    ts_ns           INTEGER NOT NULL,
    alert_type      TEXT NOT NULL,
    anomaly_score   REAL NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    src_ip          TEXT NOT NULL DEFAULT '',
    src_port        INTEGER NOT NULL DEFAULT 0,
    dst_ip          TEXT NOT NULL DEFAULT '',
    dst_port        INTEGER NOT NULL DEFAULT 0,
    proto           TEXT NOT NULL DEFAULT '',
    service         TEXT NOT NULL DEFAULT '',
    duration        REAL NOT NULL DEFAULT 0,
    orig_bytes      INTEGER NOT NULL DEFAULT 0,
    resp_bytes      INTEGER NOT NULL DEFAULT 0,
    event_uid       TEXT NOT NULL DEFAULT '',
    event_ts_ns     INTEGER NOT NULL DEFAULT 0,
    original_event  TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_ml_alerts_part       ON ml_alerts(part);
CREATE INDEX IF NOT EXISTS idx_ml_alerts_ts         ON ml_alerts(ts_ns DESC);
CREATE INDEX IF NOT EXISTS idx_ml_alerts_alert_type ON ml_alerts(alert_type);
CREATE INDEX IF NOT EXISTS idx_ml_alerts_src_ip     ON ml_alerts(src_ip);
CREATE INDEX IF NOT EXISTS idx_ml_alerts_dst_ip     ON ml_alerts(dst_ip);
CREATE INDEX IF NOT EXISTS idx_ml_alerts_dst_port   ON ml_alerts(dst_port);
`)
	if err != nil {
		return fmt.Errorf("ensure alert schema: %w", err)
	}
	return nil
}

// Emit writes the batch in one transaction. Individual row failures are
// counted and reported instead of aborting the batch, so the caller knows
// exactly how many alerts were dropped.
func (d *DB) Emit(ctx context.Context, alerts []model.AlertRecord) (int, error) {
	if len(alerts) == 0 {
		return 0, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return len(alerts), fmt.Errorf("begin alert batch: %w", err)
	}
	defer tx.Rollback()

	failed := 0
	for _, a := range alerts {
		original := a.OriginalEvent
		if len(original) == 0 {
			original = json.RawMessage(`{}`)
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO ml_alerts(part, ts_ns, alert_type, anomaly_score, description, src_ip, src_port, dst_ip, dst_port, proto, service, duration, orig_bytes, resp_bytes, event_uid, event_ts_ns, original_event)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        `,
			d.Partition(a.Timestamp), a.Timestamp.UTC().UnixNano(),
			a.AlertType, a.AnomalyScore, a.Description,
			a.SrcIP, a.SrcPort, a.DstIP, a.DstPort,
			a.Proto, a.Service, a.Duration, a.OrigBytes, a.RespBytes,
			a.OriginalEventUID, a.OriginalEventTimestamp.UTC().UnixNano(),
			string(original),
		)
		if err != nil {
			failed++
		}
	}

	if err := tx.Commit(); err != nil {
		return len(alerts), fmt.Errorf("commit alert batch: %w", err)
	}
	return failed, nil
}

// Partition names the UTC daily partition an alert lands in.
func (d *DB) Partition(ts time.Time) string {
	return fmt.Sprintf("%s-%s", d.indexBase, ts.UTC().Format("2006.01.02"))
}

// AlertCount reports how many alerts exist in a partition. Used by tests and
// operational tooling.
func (d *DB) AlertCount(ctx context.Context, partition string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ml_alerts WHERE part = ?`, partition).Scan(&n)
	return n, err
}
