package database

// GetStats returns aggregate journal statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM analyses", &s.Analyses},
		{"SELECT COUNT(*) FROM analyses WHERE prediction = 'Fake'", &s.FakeVerdicts},
		{"SELECT COUNT(*) FROM analyses WHERE prediction = 'Real'", &s.RealVerdicts},
		{"SELECT COUNT(*) FROM bulk_runs", &s.BulkRuns},
		{"SELECT COALESCE(SUM(total_analyzed), 0) FROM bulk_runs", &s.BulkRows},
		{"SELECT COUNT(*) FROM feedback", &s.FeedbackGiven},
		{"SELECT COUNT(*) FROM flags", &s.Flags},
		{"SELECT COUNT(*) FROM history", &s.HistoryCached},
		{"SELECT COUNT(*) FROM company_checks", &s.CompanyChecks},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
