package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/TobiSchelling/jobcheck/internal/gateway"
)

const analysisColumns = `a.id, a.prediction_id, a.mode, a.input, a.prediction, a.confidence, a.risk_factors,
	a.model_used, a.detected_language, a.scraped_title, a.scraped_company, a.analyzed_at, a.created_at,
	f.feedback, g.prediction_id IS NOT NULL`

const analysisJoins = `FROM analyses a
	LEFT JOIN feedback f ON f.prediction_id = a.prediction_id
	LEFT JOIN flags g ON g.prediction_id = a.prediction_id`

// RecordVerdict journals a single-item verdict and returns its local ID.
func (db *DB) RecordVerdict(mode, input string, v *gateway.Verdict) (int64, error) {
	var rfJSON *string
	if len(v.RiskFactors) > 0 {
		data, err := json.Marshal(v.RiskFactors)
		if err != nil {
			return 0, err
		}
		s := string(data)
		rfJSON = &s
	}

	var predictionID *int64
	if v.PredictionID != 0 {
		predictionID = &v.PredictionID
	}
	var analyzedAt *string
	if !v.AnalyzedAt.IsZero() {
		s := v.AnalyzedAt.UTC().Format(time.RFC3339)
		analyzedAt = &s
	}

	result, err := db.conn.Exec(
		`INSERT INTO analyses
		(prediction_id, mode, input, prediction, confidence, risk_factors, model_used,
		 detected_language, scraped_title, scraped_company, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		predictionID, mode, input, string(v.Prediction), v.Confidence, rfJSON,
		nullable(v.ModelUsed), nullable(v.DetectedLanguage), nullable(v.ScrapedTitle),
		nullable(v.ScrapedCompany), analyzedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetAnalysis returns one journaled analysis, or nil if not found.
func (db *DB) GetAnalysis(id int64) (*Analysis, error) {
	rows, err := db.conn.Query(`SELECT `+analysisColumns+` `+analysisJoins+` WHERE a.id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list, err := scanAnalyses(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListAnalyses returns the most recent analyses, newest first.
func (db *DB) ListAnalyses(limit int) ([]Analysis, error) {
	rows, err := db.conn.Query(
		`SELECT `+analysisColumns+` `+analysisJoins+` ORDER BY a.id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAnalyses(rows)
}

func scanAnalyses(rows *sql.Rows) ([]Analysis, error) {
	var list []Analysis
	for rows.Next() {
		var a Analysis
		var rfJSON *string
		if err := rows.Scan(&a.ID, &a.PredictionID, &a.Mode, &a.Input, &a.Prediction, &a.Confidence,
			&rfJSON, &a.ModelUsed, &a.DetectedLanguage, &a.ScrapedTitle, &a.ScrapedCompany,
			&a.AnalyzedAt, &a.CreatedAt, &a.Feedback, &a.Flagged); err != nil {
			return nil, err
		}
		if rfJSON != nil {
			if err := json.Unmarshal([]byte(*rfJSON), &a.RiskFactors); err != nil {
				a.RiskFactors = nil
			}
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
