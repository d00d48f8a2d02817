package database

import (
	"time"

	"github.com/TobiSchelling/jobcheck/internal/gateway"
)

// Analysis is one journaled single-item verdict.
type Analysis struct {
	ID               int64
	PredictionID     *int64
	Mode             string
	Input            string
	Prediction       string
	Confidence       int
	RiskFactors      []gateway.RiskFactor
	ModelUsed        *string
	DetectedLanguage *string
	ScrapedTitle     *string
	ScrapedCompany   *string
	AnalyzedAt       *string
	CreatedAt        *string
	Feedback         *string // agree, disagree, or nil
	Flagged          bool
}

// BulkRun is one journaled batch CSV result.
type BulkRun struct {
	ID            int64
	FileName      string
	TotalAnalyzed int
	TotalFake     int
	TotalReal     int
	Skipped       int
	FraudRate     float64
	Rows          []gateway.BulkRow
	Warnings      []string
	CreatedAt     *string
}

// CompanyCheck is a cached company verification.
type CompanyCheck struct {
	Name         string
	Verification gateway.CompanyVerification
	CheckedAt    time.Time
}

// Stats holds local journal counts.
type Stats struct {
	Analyses      int
	FakeVerdicts  int
	RealVerdicts  int
	BulkRuns      int
	BulkRows      int
	FeedbackGiven int
	Flags         int
	HistoryCached int
	CompanyChecks int
}
