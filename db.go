package main

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS conversation_outputs (
		key           TEXT PRIMARY KEY,
		sentiment     TEXT NOT NULL,
		tags          TEXT NOT NULL,
		summary       TEXT NOT NULL,
		classified_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS run_checkpoint (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		chunk_offset INTEGER NOT NULL,
		total_keys   INTEGER NOT NULL DEFAULT -1,
		processed    INTEGER NOT NULL DEFAULT 0,
		started_at   DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_lock (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		holder      TEXT NOT NULL,
		acquired_at DATETIME NOT NULL,
		expires_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS diagnostics (
		name       TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tag_rollups (
		tag            TEXT PRIMARY KEY,
		channel_count  INTEGER NOT NULL,
		positive_count INTEGER NOT NULL,
		neutral_count  INTEGER NOT NULL,
		negative_count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_subcategories (
		subcategory    TEXT PRIMARY KEY,
		channel_count  INTEGER NOT NULL,
		positive_count INTEGER NOT NULL,
		neutral_count  INTEGER NOT NULL,
		negative_count INTEGER NOT NULL
	);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// --- Output store ---

// InsertOutputRow appends one classified conversation. The key is the
// primary key: a second insert for the same key fails, which keeps the
// store append-only and exactly-once per key.
func InsertOutputRow(db *sql.DB, row OutputRow) error {
	_, err := db.Exec(
		`INSERT INTO conversation_outputs (key, sentiment, tags, summary)
		 VALUES (?, ?, ?, ?)`,
		row.Key, row.Sentiment, row.Tags, row.Summary,
	)
	return err
}

// GetProcessedKeys returns the set of keys that already have an output row.
// This set, not the checkpoint, is authoritative for "already done".
func GetProcessedKeys(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT key FROM conversation_outputs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

func GetOutputRows(db *sql.DB) ([]OutputRow, error) {
	rows, err := db.Query(
		`SELECT key, sentiment, tags, summary, classified_at
		 FROM conversation_outputs ORDER BY rowid`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutputRow
	for rows.Next() {
		var r OutputRow
		if err := rows.Scan(&r.Key, &r.Sentiment, &r.Tags, &r.Summary, &r.ClassifiedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Checkpoint ---

func LoadCheckpoint(db *sql.DB) (RunCheckpoint, bool, error) {
	var cp RunCheckpoint
	err := db.QueryRow(
		`SELECT chunk_offset, total_keys, processed, started_at FROM run_checkpoint WHERE id = 1`,
	).Scan(&cp.Offset, &cp.Total, &cp.Processed, &cp.StartedAt)
	if err == sql.ErrNoRows {
		return RunCheckpoint{}, false, nil
	}
	if err != nil {
		return RunCheckpoint{}, false, err
	}
	return cp, true, nil
}

func SaveCheckpoint(db *sql.DB, cp RunCheckpoint) error {
	_, err := db.Exec(
		`INSERT INTO run_checkpoint (id, chunk_offset, total_keys, processed, started_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   chunk_offset = excluded.chunk_offset,
		   total_keys = excluded.total_keys,
		   processed = excluded.processed,
		   started_at = excluded.started_at`,
		cp.Offset, cp.Total, cp.Processed, cp.StartedAt,
	)
	return err
}

func ClearCheckpoint(db *sql.DB) error {
	_, err := db.Exec(`DELETE FROM run_checkpoint WHERE id = 1`)
	return err
}

// --- Run lock ---

const lockPollInterval = 250 * time.Millisecond

// AcquireRunLock takes the document-scoped exclusive run lock, polling
// within the bounded wait. A lease that has expired (holder crashed without
// releasing) is stolen. Returns false if the lock stayed busy for the whole
// wait window.
func AcquireRunLock(db *sql.DB, holder string, wait, lease time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		now := time.Now().UTC()
		res, err := db.Exec(
			`INSERT INTO run_lock (id, holder, acquired_at, expires_at)
			 VALUES (1, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   holder = excluded.holder,
			   acquired_at = excluded.acquired_at,
			   expires_at = excluded.expires_at
			 WHERE run_lock.expires_at <= excluded.acquired_at
			    OR run_lock.holder = excluded.holder`,
			holder, now, now.Add(lease),
		)
		if err != nil {
			return false, fmt.Errorf("acquiring run lock: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if affected > 0 {
			return true, nil
		}
		if time.Now().Add(lockPollInterval).After(deadline) {
			return false, nil
		}
		time.Sleep(lockPollInterval)
	}
}

func ReleaseRunLock(db *sql.DB, holder string) error {
	_, err := db.Exec(`DELETE FROM run_lock WHERE id = 1 AND holder = ?`, holder)
	return err
}

// CurrentRunLock reports the holder and expiry of the lock, if held.
func CurrentRunLock(db *sql.DB) (holder string, expiresAt time.Time, held bool, err error) {
	err = db.QueryRow(`SELECT holder, expires_at FROM run_lock WHERE id = 1`).Scan(&holder, &expiresAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}
	return holder, expiresAt, true, nil
}

// --- Diagnostics ---

const diagLastError = "last_error"

func SetDiagnostic(db *sql.DB, name, value string) error {
	_, err := db.Exec(
		`INSERT INTO diagnostics (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		name, value,
	)
	return err
}

func GetDiagnostic(db *sql.DB, name string) (value string, updatedAt time.Time, found bool, err error) {
	err = db.QueryRow(`SELECT value, updated_at FROM diagnostics WHERE name = ?`, name).Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}
	return value, updatedAt, true, nil
}

// --- Rollup tables (clear-and-rewrite only) ---

func ReplaceTagRollups(db *sql.DB, rollups []TagRollup) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tag_rollups`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO tag_rollups (tag, channel_count, positive_count, neutral_count, negative_count)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rollups {
		if _, err := stmt.Exec(r.Tag, r.ChannelCount, r.PositiveCount, r.NeutralCount, r.NegativeCount); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func ReplaceQuerySubcategories(db *sql.DB, subs []QuerySubcategory) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM query_subcategories`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO query_subcategories (subcategory, channel_count, positive_count, neutral_count, negative_count)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range subs {
		if _, err := stmt.Exec(s.Subcategory, s.ChannelCount, s.PositiveCount, s.NeutralCount, s.NegativeCount); err != nil {
			return err
		}
	}
	return tx.Commit()
}
