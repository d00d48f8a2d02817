// Package report renders verdicts and batch results as markdown. The CLI
// prints it as is; the dashboard renders it to HTML.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TobiSchelling/jobcheck/internal/bulk"
	"github.com/TobiSchelling/jobcheck/internal/database"
	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/session"
	"github.com/TobiSchelling/jobcheck/internal/verdict"
)

const barWidth = 20

// Extras is what the post-verdict side effects added to a verdict.
type Extras struct {
	Company     *gateway.CompanyVerification
	Annotations map[string]string
	Feedback    string
	Flagged     bool
	Notices     []string
}

// FromState renders whatever the session is currently showing. It returns
// an empty string outside the Verdict and BulkResults phases.
func FromState(st session.State, bulkRows int) string {
	switch st.Phase {
	case session.PhaseVerdict:
		ex := Extras{
			Company:     st.Company,
			Annotations: st.Annotations,
			Flagged:     st.Flagged,
		}
		if st.Feedback != nil {
			ex.Feedback = string(st.Feedback.Kind)
		}
		for _, n := range st.Notices {
			ex.Notices = append(ex.Notices, fmt.Sprintf("%s: %s", n.Source, n.Message))
		}
		return Verdict(st.Result, ex)
	case session.PhaseBulkResults:
		return Bulk(st.Bulk, bulkRows)
	}
	return ""
}

// Verdict renders a single-item verdict.
func Verdict(v *gateway.Verdict, ex Extras) string {
	if v == nil {
		return ""
	}

	var sections []string

	head := fmt.Sprintf("## %s (%d%% confidence)", verdictLabel(v.Prediction), v.Confidence)
	var meta []string
	if v.PredictionID != 0 {
		meta = append(meta, fmt.Sprintf("Prediction #%d", v.PredictionID))
	}
	if v.ModelUsed != "" {
		meta = append(meta, "model "+v.ModelUsed)
	}
	if lang := language(v, ex.Annotations); lang != "" {
		meta = append(meta, "language "+lang)
	}
	if v.WasTranslated {
		meta = append(meta, "translated")
	}
	if len(meta) > 0 {
		head += "\n\n" + strings.Join(meta, " · ")
	}
	sections = append(sections, head)

	if v.ScrapedTitle != "" || v.ScrapedCompany != "" || v.ScrapedPreview != "" {
		var lines []string
		if v.ScrapedTitle != "" {
			lines = append(lines, "**Title:** "+v.ScrapedTitle)
		}
		if v.ScrapedCompany != "" {
			lines = append(lines, "**Company:** "+v.ScrapedCompany)
		}
		if v.ScrapedPreview != "" {
			lines = append(lines, "> "+oneLine(v.ScrapedPreview, 300))
		}
		sections = append(sections, "### Scraped posting\n\n"+strings.Join(lines, "\n\n"))
	}

	if v.ExtractedText != "" {
		sections = append(sections, "### Extracted text\n\n> "+oneLine(v.ExtractedText, 300))
	}

	if len(v.RiskFactors) > 0 {
		sections = append(sections, "### Risk factors\n\n"+RiskBars(v.RiskFactors))
	}

	if ex.Company != nil {
		sections = append(sections, "### Company check\n\n"+Company(ex.Company))
	}

	if note := ex.Annotations[verdict.AnnotationSecondary]; note != "" {
		sections = append(sections, "### Second opinion\n\n"+note)
	}

	var status []string
	if ex.Feedback != "" {
		status = append(status, "Feedback sent: "+ex.Feedback)
	}
	if ex.Flagged {
		status = append(status, "Reported as fraud")
	}
	for _, n := range ex.Notices {
		status = append(status, "Warning: "+n)
	}
	if len(status) > 0 {
		sections = append(sections, "- "+strings.Join(status, "\n- "))
	}

	return strings.Join(sections, "\n\n")
}

// RiskBars lists risk factors in backend order with bars scaled to the
// first factor's weight.
func RiskBars(factors []gateway.RiskFactor) string {
	if len(factors) == 0 {
		return ""
	}
	top := factors[0].Weight
	var lines []string
	for _, f := range factors {
		n := 0
		if top > 0 {
			n = int(f.Weight/top*barWidth + 0.5)
		}
		n = max(0, min(barWidth, n))
		bar := strings.Repeat("█", n) + strings.Repeat("░", barWidth-n)
		line := fmt.Sprintf("- `%s` **%s**", bar, f.Phrase)
		if f.Category != "" {
			line += " (" + f.Category + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Bulk renders a batch report. limit caps the number of listed rows; zero
// lists them all.
func Bulk(r *bulk.Report, limit int) string {
	if r == nil {
		return ""
	}
	return bulkReport(r, r.Rows, "Rows", limit)
}

// BulkOnly renders a batch report listing only the rows with prediction p.
// The totals still cover the whole batch.
func BulkOnly(r *bulk.Report, p gateway.Prediction, limit int) string {
	if r == nil {
		return ""
	}
	return bulkReport(r, r.Filter(p), fmt.Sprintf("%s rows", p), limit)
}

func bulkReport(r *bulk.Report, all []gateway.BulkRow, title string, limit int) string {
	var sections []string
	sections = append(sections, fmt.Sprintf("## Batch results\n\n"+
		"| Analyzed | Fake | Real | Skipped | Fraud rate |\n"+
		"|---:|---:|---:|---:|---:|\n"+
		"| %d | %d | %d | %d | %.1f%% |",
		r.TotalAnalyzed, r.TotalFake, r.TotalReal, r.Skipped, r.FraudRate))

	if !r.Consistent() {
		sections = append(sections, "### Consistency warnings\n\n- "+strings.Join(r.Warnings, "\n- "))
	}

	rows := all
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	if len(rows) == 0 {
		if len(all) == 0 && len(r.Rows) > 0 {
			sections = append(sections, fmt.Sprintf("_No %s._", strings.ToLower(title)))
		}
		return strings.Join(sections, "\n\n")
	}
	sections = append(sections, "### "+title+"\n\n"+rowTable(rows))
	if len(rows) < len(all) {
		sections = append(sections, fmt.Sprintf("_%d more rows not shown._", len(all)-len(rows)))
	}
	return strings.Join(sections, "\n\n")
}

// Stored renders a journaled analysis for the dashboard.
func Stored(a *database.Analysis) string {
	v := &gateway.Verdict{
		Prediction:  gateway.Prediction(a.Prediction),
		Confidence:  a.Confidence,
		RiskFactors: a.RiskFactors,
	}
	if a.PredictionID != nil {
		v.PredictionID = *a.PredictionID
	}
	if a.ModelUsed != nil {
		v.ModelUsed = *a.ModelUsed
	}
	if a.DetectedLanguage != nil {
		v.DetectedLanguage = *a.DetectedLanguage
	}
	if a.ScrapedTitle != nil {
		v.ScrapedTitle = *a.ScrapedTitle
	}
	if a.ScrapedCompany != nil {
		v.ScrapedCompany = *a.ScrapedCompany
	}

	ex := Extras{Flagged: a.Flagged}
	if a.Feedback != nil {
		ex.Feedback = *a.Feedback
	}

	body := Verdict(v, ex)
	input := fmt.Sprintf("### Submitted %s\n\n> %s", a.Mode, oneLine(a.Input, 500))
	return body + "\n\n" + input
}

// StoredBulk renders a journaled batch run for the dashboard.
func StoredBulk(b *database.BulkRun) string {
	r := &bulk.Report{
		BulkReport: gateway.BulkReport{
			TotalAnalyzed: b.TotalAnalyzed,
			TotalFake:     b.TotalFake,
			TotalReal:     b.TotalReal,
			FraudRate:     b.FraudRate,
			Rows:          b.Rows,
		},
		Skipped:  b.Skipped,
		Warnings: b.Warnings,
	}
	return fmt.Sprintf("# %s\n\n", b.FileName) + Bulk(r, 0)
}

// Stats renders the backend's personal summary.
func Stats(s *gateway.Stats) string {
	var sections []string
	sections = append(sections, fmt.Sprintf("## Your analyses\n\n"+
		"| Total | Fake | Real | Fraud rate | Avg confidence |\n"+
		"|---:|---:|---:|---:|---:|\n"+
		"| %d | %d | %d | %.1f%% | %.1f%% |",
		s.TotalAnalyses, s.TotalFake, s.TotalReal, s.FraudRate, s.AvgConfidence))

	if len(s.WeeklyTrend) > 0 {
		weeks := append([]gateway.WeeklyPoint(nil), s.WeeklyTrend...)
		sort.SliceStable(weeks, func(i, j int) bool { return weeks[i].Week < weeks[j].Week })
		var lines []string
		for _, w := range weeks {
			lines = append(lines, fmt.Sprintf("| %s | %d | %d | %d |", w.Week, w.Total, w.Fake, w.Real))
		}
		sections = append(sections, "### Weekly trend\n\n| Week | Total | Fake | Real |\n|---|---:|---:|---:|\n"+strings.Join(lines, "\n"))
	}

	var footer []string
	footer = append(footer, fmt.Sprintf("Feedback given: %d (%d agree)", s.FeedbackGiven, s.FeedbackAgree))
	if s.MemberSince != "" {
		footer = append(footer, "Member since "+s.MemberSince)
	}
	sections = append(sections, strings.Join(footer, " · "))

	return strings.Join(sections, "\n\n")
}

// Trending renders the backend's recent scam patterns.
func Trending(t *gateway.Trending) string {
	head := fmt.Sprintf("## Trending scam patterns (last %d days)\n\n%d fake postings detected.", t.PeriodDays, t.TotalFakeDetected)
	if t.TotalFakeDetected == 0 {
		return head
	}
	sections := []string{head}

	if len(t.Patterns) > 0 {
		var lines []string
		for _, p := range t.Patterns {
			lines = append(lines, fmt.Sprintf("| %s | %d | %.1f%% | %s |", cell(p.Pattern), p.Count, p.Percentage, p.Severity))
		}
		sections = append(sections, "### Patterns\n\n| Pattern | Posts | Share | Severity |\n|---|---:|---:|---|\n"+strings.Join(lines, "\n"))
	}

	if len(t.TopKeywords) > 0 {
		var words []string
		for _, k := range t.TopKeywords {
			words = append(words, fmt.Sprintf("`%s` (%d)", k.Keyword, k.Count))
		}
		sections = append(sections, "### Top keywords\n\n"+strings.Join(words, ", "))
	}

	if len(t.DailyTrend) > 0 {
		var lines []string
		for _, d := range t.DailyTrend {
			lines = append(lines, fmt.Sprintf("| %s | %d |", d.Date, d.Count))
		}
		sections = append(sections, "### Last 7 days\n\n| Date | Fake |\n|---|---:|\n"+strings.Join(lines, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

// GlobalStats renders the backend-wide summary.
func GlobalStats(s *gateway.GlobalStats) string {
	var sections []string
	sections = append(sections, fmt.Sprintf("## All analyses\n\n"+
		"| Total | Fake | Real | Fake share | Flagged |\n"+
		"|---:|---:|---:|---:|---:|\n"+
		"| %d | %d | %d | %.1f%% | %d |",
		s.TotalPredictions, s.TotalFake, s.TotalReal, s.FakePercentage, s.TotalFlagged))

	if len(s.DailyTrend) > 0 {
		days := append([]gateway.DailyPoint(nil), s.DailyTrend...)
		sort.SliceStable(days, func(i, j int) bool { return days[i].Date < days[j].Date })
		var lines []string
		for _, d := range days {
			lines = append(lines, fmt.Sprintf("| %s | %d | %d | %d |", d.Date, d.Total, d.Fake, d.Real))
		}
		sections = append(sections, "### Last 30 days\n\n| Date | Total | Fake | Real |\n|---|---:|---:|---:|\n"+strings.Join(lines, "\n"))
	}

	if fb := s.Feedback; fb != nil {
		sections = append(sections, fmt.Sprintf("Feedback: %d (%d agree, %d disagree), %.1f%% agreement",
			fb.TotalFeedback, fb.Agrees, fb.Disagrees, fb.AgreementRate))
	}

	return strings.Join(sections, "\n\n")
}

// History renders past predictions as a table.
func History(entries []gateway.HistoryEntry) string {
	if len(entries) == 0 {
		return "_No predictions yet._"
	}
	var lines []string
	for _, e := range entries {
		when := ""
		if !e.CreatedAt.IsZero() {
			when = e.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		lines = append(lines, fmt.Sprintf("| %d | %s | %.0f%% | %s | %s |",
			e.ID, e.Prediction, e.Confidence, when, cell(oneLine(e.JobText, 60))))
	}
	return "| ID | Verdict | Confidence | When | Posting |\n|---:|---|---:|---|---|\n" + strings.Join(lines, "\n")
}

func rowTable(rows []gateway.BulkRow) string {
	var lines []string
	for _, r := range rows {
		conf := ""
		if r.Prediction != gateway.PredictionSkipped {
			conf = fmt.Sprintf("%.1f%%", r.Confidence)
		}
		detail := oneLine(r.Preview, 80)
		if r.Reason != "" {
			detail = r.Reason
		}
		lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s |", r.Row, r.Prediction, conf, cell(detail)))
	}
	return "| Row | Verdict | Confidence | Posting |\n|---:|---|---:|---|\n" + strings.Join(lines, "\n")
}

// Company describes a company check in one short paragraph.
func Company(cv *gateway.CompanyVerification) string {
	var line string
	if cv.Verified {
		line = fmt.Sprintf("Verified (%s match, %.0f%%)", cv.MatchType, cv.Confidence*100)
		if cv.MatchedCompany != "" {
			line += ": " + cv.MatchedCompany
		}
	} else {
		line = "Not verified"
	}
	if cv.Warning != "" {
		line += "\n\n> " + cv.Warning
	}
	return line
}

func verdictLabel(p gateway.Prediction) string {
	switch p {
	case gateway.PredictionFake:
		return "Likely fraudulent"
	case gateway.PredictionReal:
		return "Looks legitimate"
	}
	return string(p)
}

func language(v *gateway.Verdict, annotations map[string]string) string {
	if v.DetectedLanguage != "" {
		return v.DetectedLanguage
	}
	return annotations[verdict.AnnotationLanguage]
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return s
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
