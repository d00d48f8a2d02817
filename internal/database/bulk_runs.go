package database

import (
	"database/sql"
	"encoding/json"

	"github.com/TobiSchelling/jobcheck/internal/bulk"
)

// RecordBulk journals a batch result, including any consistency warnings.
func (db *DB) RecordBulk(fileName string, r *bulk.Report) (int64, error) {
	rowsJSON, err := json.Marshal(r.Rows)
	if err != nil {
		return 0, err
	}
	var warnJSON *string
	if len(r.Warnings) > 0 {
		data, err := json.Marshal(r.Warnings)
		if err != nil {
			return 0, err
		}
		s := string(data)
		warnJSON = &s
	}

	result, err := db.conn.Exec(
		`INSERT INTO bulk_runs
		(file_name, total_analyzed, total_fake, total_real, skipped, fraud_rate, rows, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fileName, r.TotalAnalyzed, r.TotalFake, r.TotalReal, r.Skipped, r.FraudRate,
		string(rowsJSON), warnJSON,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetBulkRun returns one batch run with its rows, or nil if not found.
func (db *DB) GetBulkRun(id int64) (*BulkRun, error) {
	row := db.conn.QueryRow(
		`SELECT id, file_name, total_analyzed, total_fake, total_real, skipped, fraud_rate, rows, warnings, created_at
		FROM bulk_runs WHERE id = ?`, id,
	)

	var b BulkRun
	var rowsJSON, warnJSON *string
	if err := row.Scan(&b.ID, &b.FileName, &b.TotalAnalyzed, &b.TotalFake, &b.TotalReal,
		&b.Skipped, &b.FraudRate, &rowsJSON, &warnJSON, &b.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if rowsJSON != nil {
		if err := json.Unmarshal([]byte(*rowsJSON), &b.Rows); err != nil {
			b.Rows = nil
		}
	}
	if warnJSON != nil {
		if err := json.Unmarshal([]byte(*warnJSON), &b.Warnings); err != nil {
			b.Warnings = nil
		}
	}
	return &b, nil
}

// ListBulkRuns returns recent batch runs without their rows, newest first.
func (db *DB) ListBulkRuns(limit int) ([]BulkRun, error) {
	rows, err := db.conn.Query(
		`SELECT id, file_name, total_analyzed, total_fake, total_real, skipped, fraud_rate, created_at
		FROM bulk_runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BulkRun
	for rows.Next() {
		var b BulkRun
		if err := rows.Scan(&b.ID, &b.FileName, &b.TotalAnalyzed, &b.TotalFake, &b.TotalReal,
			&b.Skipped, &b.FraudRate, &b.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, b)
	}
	return runs, rows.Err()
}
