// Package bulk checks batch classification reports. The backend's numbers
// are shown as-is; anything that does not add up becomes a warning on the
// report rather than a silent correction.
package bulk

import (
	"fmt"
	"math"

	"github.com/TobiSchelling/jobcheck/internal/gateway"
)

// fraudRateTolerance absorbs the backend's own one-decimal rounding.
const fraudRateTolerance = 0.05

// Report is a backend batch report plus locally derived checks.
type Report struct {
	gateway.BulkReport
	// Skipped counts rows the backend did not classify.
	Skipped  int
	Warnings []string
}

// Aggregate wraps r and records every invariant it violates.
func Aggregate(r *gateway.BulkReport) *Report {
	out := &Report{BulkReport: *r}

	var rowFake, rowReal int
	for _, row := range r.Rows {
		switch row.Prediction {
		case gateway.PredictionFake:
			rowFake++
		case gateway.PredictionReal:
			rowReal++
		case gateway.PredictionSkipped:
			out.Skipped++
		default:
			out.warn("row %d has unknown prediction %q", row.Row, row.Prediction)
		}
		if row.Confidence < 0 || row.Confidence > 100 {
			out.warn("row %d confidence %.2f is outside 0..100", row.Row, row.Confidence)
		}
	}

	if r.TotalReal+r.TotalFake > r.TotalAnalyzed {
		out.warn("real (%d) + fake (%d) exceeds total analyzed (%d)", r.TotalReal, r.TotalFake, r.TotalAnalyzed)
	}
	classified := r.TotalReal + r.TotalFake
	switch sum := classified + out.Skipped; {
	case out.Skipped > 0 && classified == r.TotalAnalyzed && len(r.Rows) == sum:
		// The stock backend counts only classified rows in total analyzed.
		out.warn("total analyzed (%d) leaves out the %d skipped rows", r.TotalAnalyzed, out.Skipped)
	default:
		if sum != r.TotalAnalyzed {
			out.warn("real (%d) + fake (%d) + skipped (%d) = %d, but total analyzed is %d",
				r.TotalReal, r.TotalFake, out.Skipped, sum, r.TotalAnalyzed)
		}
		if len(r.Rows) != r.TotalAnalyzed {
			out.warn("report has %d rows, but total analyzed is %d", len(r.Rows), r.TotalAnalyzed)
		}
	}
	if rowFake != r.TotalFake {
		out.warn("%d rows are Fake, but total fake is %d", rowFake, r.TotalFake)
	}
	if rowReal != r.TotalReal {
		out.warn("%d rows are Real, but total real is %d", rowReal, r.TotalReal)
	}
	if r.TotalAnalyzed > 0 {
		if want := FraudRate(r.TotalFake, r.TotalAnalyzed); math.Abs(want-r.FraudRate) > fraudRateTolerance {
			out.warn("fraud rate %.1f does not match %d/%d = %.1f", r.FraudRate, r.TotalFake, r.TotalAnalyzed, want)
		}
	}

	return out
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// FraudRate is fake/total as a percentage rounded to one decimal.
// It is 0 when total is 0.
func FraudRate(fake, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(fake)/float64(total)*1000) / 10
}

// Filter returns the rows with the given prediction, in report order.
func (r *Report) Filter(p gateway.Prediction) []gateway.BulkRow {
	var rows []gateway.BulkRow
	for _, row := range r.Rows {
		if row.Prediction == p {
			rows = append(rows, row)
		}
	}
	return rows
}

// Consistent reports whether no invariant was violated.
func (r *Report) Consistent() bool {
	return len(r.Warnings) == 0
}
