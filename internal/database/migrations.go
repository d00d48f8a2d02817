package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    prediction_id INTEGER,
    mode TEXT NOT NULL,
    input TEXT NOT NULL,
    prediction TEXT NOT NULL,
    confidence INTEGER NOT NULL,
    risk_factors TEXT,
    model_used TEXT,
    detected_language TEXT,
    scraped_title TEXT,
    scraped_company TEXT,
    analyzed_at TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS feedback (
    prediction_id INTEGER PRIMARY KEY,
    feedback TEXT NOT NULL CHECK(feedback IN ('agree', 'disagree')),
    correct_label TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS flags (
    prediction_id INTEGER PRIMARY KEY,
    reason TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS bulk_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_name TEXT NOT NULL,
    total_analyzed INTEGER NOT NULL,
    total_fake INTEGER NOT NULL,
    total_real INTEGER NOT NULL,
    skipped INTEGER DEFAULT 0,
    fraud_rate REAL NOT NULL,
    rows TEXT,
    warnings TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS history (
    prediction_id INTEGER PRIMARY KEY,
    job_text TEXT NOT NULL,
    prediction TEXT NOT NULL,
    confidence REAL NOT NULL,
    created_at TEXT,
    synced_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_analyses_prediction ON analyses(prediction_id);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "company verification cache",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS company_checks (
    name TEXT PRIMARY KEY,
    verified INTEGER NOT NULL,
    match_type TEXT NOT NULL,
    confidence REAL NOT NULL,
    matched_company TEXT,
    warning TEXT,
    checked_at INTEGER NOT NULL
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
