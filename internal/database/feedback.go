package database

import "database/sql"

// FeedbackGiven reports whether feedback was already sent for a prediction.
func (db *DB) FeedbackGiven(predictionID int64) (bool, error) {
	var n int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM feedback WHERE prediction_id = ?`, predictionID,
	).Scan(&n)
	return n > 0, err
}

// RecordFeedback stores sent feedback. The first record for a prediction
// wins; later calls are ignored.
func (db *DB) RecordFeedback(predictionID int64, kind, correctLabel string) error {
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO feedback (prediction_id, feedback, correct_label) VALUES (?, ?, ?)`,
		predictionID, kind, nullable(correctLabel),
	)
	return err
}

// GetFeedback returns the stored feedback kind for a prediction, or nil.
func (db *DB) GetFeedback(predictionID int64) (*string, error) {
	var kind string
	err := db.conn.QueryRow(
		`SELECT feedback FROM feedback WHERE prediction_id = ?`, predictionID,
	).Scan(&kind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &kind, nil
}

// RecordFlag stores a sent fraud report.
func (db *DB) RecordFlag(predictionID int64, reason string) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO flags (prediction_id, reason) VALUES (?, ?)`,
		predictionID, nullable(reason),
	)
	return err
}

// IsFlagged reports whether a prediction was flagged from this machine.
func (db *DB) IsFlagged(predictionID int64) (bool, error) {
	var n int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM flags WHERE prediction_id = ?`, predictionID,
	).Scan(&n)
	return n > 0, err
}
