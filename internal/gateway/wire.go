package gateway

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

type wireRiskFactor struct {
	Phrase   string  `json:"phrase"`
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`
}

type wireModelB struct {
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

type wireVerdict struct {
	Prediction           string           `json:"prediction"`
	Confidence           float64          `json:"confidence"`
	PredictionID         int64            `json:"prediction_id"`
	AnalyzedAt           string           `json:"analyzed_at"`
	RiskFactors          []wireRiskFactor `json:"risk_factors"`
	ModelUsed            string           `json:"model_used"`
	DetectedLanguage     string           `json:"detected_language"`
	WasTranslated        bool             `json:"was_translated"`
	ModelBResult         *wireModelB      `json:"model_b_result"`
	ScrapedTitle         string           `json:"scraped_title"`
	ScrapedCompany       string           `json:"scraped_company"`
	ScrapedPreview       string           `json:"scraped_preview"`
	ExtractedTextPreview string           `json:"extracted_text_preview"`
}

func (w wireVerdict) toVerdict() (*Verdict, error) {
	v := &Verdict{
		PredictionID:     w.PredictionID,
		Prediction:       Prediction(w.Prediction),
		Confidence:       percent(w.Confidence),
		ModelUsed:        w.ModelUsed,
		DetectedLanguage: w.DetectedLanguage,
		WasTranslated:    w.WasTranslated,
		ScrapedTitle:     strings.TrimSpace(w.ScrapedTitle),
		ScrapedCompany:   strings.TrimSpace(w.ScrapedCompany),
		ScrapedPreview:   w.ScrapedPreview,
		ExtractedText:    w.ExtractedTextPreview,
		AnalyzedAt:       parseTimestamp(w.AnalyzedAt),
	}
	for _, rf := range w.RiskFactors {
		v.RiskFactors = append(v.RiskFactors, RiskFactor{
			Phrase:   rf.Phrase,
			Category: rf.Category,
			Weight:   rf.Weight,
		})
	}
	if w.ModelBResult != nil {
		v.ModelB = &SecondaryModel{
			Prediction: Prediction(w.ModelBResult.Prediction),
			Confidence: percent(w.ModelBResult.Confidence),
			Model:      w.ModelBResult.Model,
		}
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

type wireBulkRow struct {
	Row        int     `json:"row"`
	Preview    string  `json:"preview"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type wireBulkReport struct {
	TotalAnalyzed int           `json:"total_analyzed"`
	TotalFake     int           `json:"total_fake"`
	TotalReal     int           `json:"total_real"`
	FraudRate     float64       `json:"fraud_rate"`
	Results       []wireBulkRow `json:"results"`
}

func (w wireBulkReport) toReport() *BulkReport {
	r := &BulkReport{
		TotalAnalyzed: w.TotalAnalyzed,
		TotalFake:     w.TotalFake,
		TotalReal:     w.TotalReal,
		FraudRate:     w.FraudRate,
		Rows:          make([]BulkRow, 0, len(w.Results)),
	}
	for _, row := range w.Results {
		r.Rows = append(r.Rows, BulkRow{
			Row:        row.Row,
			Preview:    row.Preview,
			Prediction: Prediction(row.Prediction),
			Confidence: row.Confidence,
			Reason:     row.Reason,
		})
	}
	return r
}

type wireVerification struct {
	Verified       bool            `json:"verified"`
	MatchType      string          `json:"match_type"`
	Confidence     float64         `json:"confidence"`
	MatchedCompany json.RawMessage `json:"matched_company"`
	Warning        string          `json:"warning"`
}

func (w wireVerification) toVerification() *CompanyVerification {
	return &CompanyVerification{
		Verified:       w.Verified,
		MatchType:      w.MatchType,
		Confidence:     w.Confidence,
		MatchedCompany: companyName(w.MatchedCompany),
		Warning:        w.Warning,
	}
}

// companyName accepts either a bare string or a company record with a name.
func companyName(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var rec struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &rec); err == nil {
		return rec.Name
	}
	return ""
}

type wireHistoryEntry struct {
	ID         int64   `json:"id"`
	JobText    string  `json:"job_text"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

// percent rounds a backend confidence to an integer in 0..100.
func percent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	n := int(math.Round(v))
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp reads the backend's isoformat timestamps. Values without a
// zone are taken as UTC. Unparseable values yield the zero time.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
