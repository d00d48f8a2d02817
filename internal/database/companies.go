package database

import (
	"database/sql"
	"time"
)

// GetCompanyCheck returns the cached verification for a normalized name,
// or nil if none is stored.
func (db *DB) GetCompanyCheck(name string) (*CompanyCheck, error) {
	row := db.conn.QueryRow(
		`SELECT name, verified, match_type, confidence, matched_company, warning, checked_at
		FROM company_checks WHERE name = ?`, name,
	)

	var c CompanyCheck
	var matched, warning *string
	var checkedAt int64
	if err := row.Scan(&c.Name, &c.Verification.Verified, &c.Verification.MatchType,
		&c.Verification.Confidence, &matched, &warning, &checkedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if matched != nil {
		c.Verification.MatchedCompany = *matched
	}
	if warning != nil {
		c.Verification.Warning = *warning
	}
	c.CheckedAt = time.Unix(checkedAt, 0).UTC()
	return &c, nil
}

// PutCompanyCheck stores or replaces a verification.
func (db *DB) PutCompanyCheck(c CompanyCheck) error {
	v := c.Verification
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO company_checks
		(name, verified, match_type, confidence, matched_company, warning, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Name, v.Verified, v.MatchType, v.Confidence,
		nullable(v.MatchedCompany), nullable(v.Warning), c.CheckedAt.Unix(),
	)
	return err
}

// PruneCompanyChecks removes checks older than cutoff.
func (db *DB) PruneCompanyChecks(cutoff time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM company_checks WHERE checked_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
