package gateway

import (
	"fmt"
	"time"
)

// Prediction is the classifier's label for one posting or one bulk row.
type Prediction string

const (
	PredictionFake    Prediction = "Fake"
	PredictionReal    Prediction = "Real"
	PredictionSkipped Prediction = "Skipped"
)

// FeedbackKind is the user's reaction to a verdict.
type FeedbackKind string

const (
	FeedbackAgree    FeedbackKind = "agree"
	FeedbackDisagree FeedbackKind = "disagree"
)

// RiskFactor is a phrase that pushed the classifier toward its label.
// Backend order is preserved.
type RiskFactor struct {
	Phrase   string
	Category string
	Weight   float64
}

// SecondaryModel is the optional second classifier's opinion.
type SecondaryModel struct {
	Prediction Prediction
	Confidence int
	Model      string
}

// Verdict is the result of a single-item classification.
type Verdict struct {
	PredictionID     int64
	Prediction       Prediction
	Confidence       int // 0..100
	RiskFactors      []RiskFactor
	ModelUsed        string
	DetectedLanguage string
	WasTranslated    bool
	ModelB           *SecondaryModel
	ScrapedTitle     string
	ScrapedCompany   string
	ScrapedPreview   string
	ExtractedText    string
	AnalyzedAt       time.Time
}

// Validate rejects a verdict without a Fake or Real label.
func (v *Verdict) Validate() error {
	if v == nil {
		return fmt.Errorf("%w: empty response", ErrMalformedVerdict)
	}
	if v.Prediction != PredictionFake && v.Prediction != PredictionReal {
		return fmt.Errorf("%w: prediction %q", ErrMalformedVerdict, v.Prediction)
	}
	return nil
}

// BulkRow is one classified row of a batch CSV.
type BulkRow struct {
	Row        int
	Preview    string
	Prediction Prediction
	Confidence float64
	Reason     string
}

// BulkReport is the backend's batch response, unmodified.
type BulkReport struct {
	TotalAnalyzed int
	TotalFake     int
	TotalReal     int
	FraudRate     float64
	Rows          []BulkRow
}

// CompanyVerification is the outcome of a company lookup.
type CompanyVerification struct {
	Verified       bool
	MatchType      string // exact, partial, similar, none
	Confidence     float64
	MatchedCompany string
	Warning        string
}

// HistoryEntry is one past prediction owned by the authenticated user.
type HistoryEntry struct {
	ID         int64
	JobText    string
	Prediction Prediction
	Confidence float64
	CreatedAt  time.Time
}

// Stats is the authenticated user's summary.
type Stats struct {
	TotalAnalyses     int                `json:"total_analyses"`
	TotalFake         int                `json:"total_fake"`
	TotalReal         int                `json:"total_real"`
	AvgConfidence     float64            `json:"avg_confidence"`
	FraudRate         float64            `json:"fraud_rate"`
	WeeklyTrend       []WeeklyPoint      `json:"weekly_trend"`
	RecentPredictions []RecentPrediction `json:"recent_predictions"`
	FeedbackGiven     int                `json:"feedback_given"`
	FeedbackAgree     int                `json:"feedback_agree"`
	MemberSince       string             `json:"member_since"`
}

type WeeklyPoint struct {
	Week  string `json:"week"`
	Total int    `json:"total"`
	Fake  int    `json:"fake"`
	Real  int    `json:"real"`
}

type RecentPrediction struct {
	ID         int64   `json:"id"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Preview    string  `json:"preview"`
	CreatedAt  string  `json:"created_at"`
}

// Trending summarizes scam patterns the backend saw in recent Fake
// predictions across all users.
type Trending struct {
	PeriodDays        int              `json:"period_days"`
	TotalFakeDetected int              `json:"total_fake_detected"`
	Patterns          []TrendPattern   `json:"patterns"`
	TopKeywords       []KeywordCount   `json:"top_keywords"`
	DailyTrend        []DailyFakeCount `json:"daily_trend"`
}

type TrendPattern struct {
	Pattern    string  `json:"pattern"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	Severity   string  `json:"severity"`
}

type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

type DailyFakeCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// GlobalStats is the backend-wide summary. Feedback is nil when the
// feedback summary could not be fetched.
type GlobalStats struct {
	TotalPredictions int            `json:"total_predictions"`
	TotalFake        int            `json:"total_fake"`
	TotalReal        int            `json:"total_real"`
	FakePercentage   float64        `json:"fake_percentage"`
	TotalFlagged     int            `json:"total_flagged"`
	DailyTrend       []DailyPoint   `json:"daily_trend"`
	Feedback         *FeedbackStats `json:"-"`
}

type DailyPoint struct {
	Date  string `json:"date"`
	Total int    `json:"total"`
	Fake  int    `json:"fake"`
	Real  int    `json:"real"`
}

type FeedbackStats struct {
	TotalFeedback int     `json:"total_feedback"`
	Agrees        int     `json:"agrees"`
	Disagrees     int     `json:"disagrees"`
	AgreementRate float64 `json:"user_agreement_rate"`
}

// Upload is a user-selected file, read fully into memory.
type Upload struct {
	Name string
	Data []byte
}
