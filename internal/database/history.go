package database

import (
	"time"

	"github.com/TobiSchelling/jobcheck/internal/gateway"
)

// SaveHistory upserts backend history entries into the local copy. Older
// entries that fell out of the backend window are kept.
func (db *DB) SaveHistory(entries []gateway.HistoryEntry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO history (prediction_id, job_text, prediction, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		var createdAt *string
		if !e.CreatedAt.IsZero() {
			s := e.CreatedAt.UTC().Format(time.RFC3339)
			createdAt = &s
		}
		if _, err := stmt.Exec(e.ID, e.JobText, string(e.Prediction), e.Confidence, createdAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListHistory returns the locally cached history, newest first.
func (db *DB) ListHistory(limit int) ([]gateway.HistoryEntry, error) {
	rows, err := db.conn.Query(
		`SELECT prediction_id, job_text, prediction, confidence, created_at
		FROM history ORDER BY created_at DESC, prediction_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []gateway.HistoryEntry
	for rows.Next() {
		var e gateway.HistoryEntry
		var prediction string
		var createdAt *string
		if err := rows.Scan(&e.ID, &e.JobText, &prediction, &e.Confidence, &createdAt); err != nil {
			return nil, err
		}
		e.Prediction = gateway.Prediction(prediction)
		if createdAt != nil {
			if t, err := time.Parse(time.RFC3339, *createdAt); err == nil {
				e.CreatedAt = t
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
