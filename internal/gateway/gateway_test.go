package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens oauth2.TokenSource) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, 5*time.Second, tokens, nil)
}

func TestClassifyTextDecodesVerdict(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header")
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("expected anonymous request")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{
			"prediction": "Fake",
			"confidence": 87.46,
			"prediction_id": 42,
			"analyzed_at": "2026-02-06T10:15:30.123456",
			"risk_factors": [
				{"phrase": "wire transfer", "category": "Payment", "weight": 0.9},
				{"phrase": "no interview", "category": "Process", "weight": 0.45}
			],
			"model_used": "tfidf",
			"detected_language": "en",
			"model_b_result": {"prediction": "Real", "confidence": 61.2, "model": "bert"}
		}`)
	}, nil)

	v, err := c.ClassifyText(context.Background(), "Earn $5000 a week from home")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["job_text"] != "Earn $5000 a week from home" {
		t.Errorf("expected job_text in body, got %v", gotBody)
	}
	if v.Prediction != PredictionFake {
		t.Errorf("expected Fake, got %q", v.Prediction)
	}
	if v.Confidence != 87 {
		t.Errorf("expected confidence 87, got %d", v.Confidence)
	}
	if v.PredictionID != 42 {
		t.Errorf("expected id 42, got %d", v.PredictionID)
	}
	if len(v.RiskFactors) != 2 || v.RiskFactors[0].Phrase != "wire transfer" {
		t.Errorf("expected risk factors in backend order, got %+v", v.RiskFactors)
	}
	if v.ModelB == nil || v.ModelB.Prediction != PredictionReal || v.ModelB.Confidence != 61 {
		t.Errorf("unexpected model B result: %+v", v.ModelB)
	}
	want := time.Date(2026, 2, 6, 10, 15, 30, 123456000, time.UTC)
	if !v.AnalyzedAt.Equal(want) {
		t.Errorf("expected analyzed_at %v, got %v", want, v.AnalyzedAt)
	}
}

func TestClassifyRejectsMissingPrediction(t *testing.T) {
	for _, body := range []string{
		`{"confidence": 80, "prediction_id": 5}`,
		`{"prediction": "Unknown", "confidence": 80, "prediction_id": 5}`,
	} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, body)
		}, nil)
		v, err := c.ClassifyText(context.Background(), "Some posting")
		if !errors.Is(err, ErrMalformedVerdict) {
			t.Errorf("%s: expected ErrMalformedVerdict, got %v", body, err)
		}
		if v != nil {
			t.Errorf("%s: expected no verdict, got %+v", body, v)
		}
	}
}

func TestParseDetailTruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxDetailLen-1) + "é tail"
	got := parseDetail([]byte(body))
	if !utf8.ValidString(got) {
		t.Fatal("expected valid UTF-8 after truncation")
	}
	if len(got) > maxDetailLen {
		t.Errorf("expected at most %d bytes, got %d", maxDetailLen, len(got))
	}
	if got != strings.Repeat("a", maxDetailLen-1) {
		t.Errorf("expected cut before the split rune, got %q", got[len(got)-3:])
	}
}

func TestClassifyURLScrapedFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"prediction":"Real","confidence":99.9,"prediction_id":7,
			"analyzed_at":"2026-02-06T10:15:30+00:00","risk_factors":[],
			"scraped_title":"Backend Engineer","scraped_company":" Acme Corp ","scraped_preview":"We are hiring"}`)
	}, nil)

	v, err := c.ClassifyURL(context.Background(), "https://jobs.example.com/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ScrapedCompany != "Acme Corp" {
		t.Errorf("expected trimmed company, got %q", v.ScrapedCompany)
	}
	if v.Confidence != 100 {
		t.Errorf("expected rounded confidence 100, got %d", v.Confidence)
	}
	if len(v.RiskFactors) != 0 {
		t.Errorf("expected no risk factors, got %d", len(v.RiskFactors))
	}
}

func TestAPIErrorDetailVerbatim(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"detail": "Could not scrape the page. Please paste the text instead."}`)
	}, nil)

	_, err := c.ClassifyURL(context.Background(), "not a url")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", apiErr.Status)
	}
	if err.Error() != "Could not scrape the page. Please paste the text instead." {
		t.Errorf("expected verbatim detail, got %q", err.Error())
	}
	if apiErr.RequestID == "" {
		t.Error("expected request id on error")
	}
}

func TestAPIErrorValidationList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail":[{"loc":["body","url"],"msg":"field required"},{"msg":"bad type"}]}`)
	}, nil)

	_, err := c.ClassifyURL(context.Background(), "x")
	if err == nil || err.Error() != "field required; bad type" {
		t.Errorf("expected joined validation messages, got %v", err)
	}
}

func TestParseDetailPlainText(t *testing.T) {
	if got := parseDetail([]byte("  Internal Server Error\n")); got != "Internal Server Error" {
		t.Errorf("expected plain body, got %q", got)
	}
	if got := (&APIError{Status: 502}).Error(); got != "backend returned 502" {
		t.Errorf("unexpected fallback message %q", got)
	}
}

func TestBearerTokenAttached(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("expected bearer header, got %q", got)
		}
		io.WriteString(w, `{"predictions":[{"id":3,"job_text":"Data entry clerk","prediction":"Fake","confidence":91.5,"created_at":"2026-02-01T08:00:00"}]}`)
	}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "secret-token"}))

	entries, err := c.FetchHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 3 || entries[0].Prediction != PredictionFake {
		t.Errorf("unexpected history: %+v", entries)
	}
}

func TestFetchHistorySendsLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "25" {
			t.Errorf("expected limit=25, got %q", r.URL.RawQuery)
		}
		io.WriteString(w, `{"predictions":[]}`)
	}, nil)
	if _, err := c.FetchHistory(context.Background(), 25); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClassifyBulkMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/predict-bulk" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "jobs.csv" || !strings.HasPrefix(string(data), "description") {
			t.Errorf("unexpected upload %q: %q", header.Filename, data)
		}
		io.WriteString(w, `{"total_analyzed":2,"total_fake":1,"total_real":1,"fraud_rate":50.0,
			"results":[{"row":1,"preview":"a","prediction":"Fake","confidence":88.1},
			           {"row":2,"preview":"b","prediction":"Real","confidence":70.0}]}`)
	}, nil)

	report, err := c.ClassifyBulk(context.Background(), Upload{Name: "jobs.csv", Data: []byte("description\nfoo\nbar\n")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TotalAnalyzed != 2 || len(report.Rows) != 2 || report.FraudRate != 50.0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestClassifyImagePartContentType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file: %v", err)
			return
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("expected image/png part, got %q", ct)
		}
		io.WriteString(w, `{"prediction":"Real","confidence":80,"prediction_id":9,"analyzed_at":"2026-02-06T10:00:00","extracted_text_preview":"Hiring now"}`)
	}, nil)

	v, err := c.ClassifyImage(context.Background(), Upload{Name: "shot.PNG", Data: []byte("not really a png")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ExtractedText != "Hiring now" {
		t.Errorf("expected extracted text, got %q", v.ExtractedText)
	}
}

func TestImageContentTypeSniffing(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	if got := ImageContentType(Upload{Name: "screenshot", Data: png}); got != "image/png" {
		t.Errorf("expected sniffed image/png, got %q", got)
	}
	if got := ImageContentType(Upload{Name: "scan.tiff"}); got != "image/tiff" {
		t.Errorf("expected image/tiff, got %q", got)
	}
}

func TestVerifyCompanyMatchedRecord(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"verified":false,"match_type":"similar","confidence":72.5,
			"matched_company":{"name":"Acme Corporation","domain":"acme.com"},
			"warning":"Company name is similar to a known company"}`)
	}, nil)

	cv, err := c.VerifyCompany(context.Background(), "Acme Corp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cv.MatchedCompany != "Acme Corporation" || cv.MatchType != "similar" || cv.Verified {
		t.Errorf("unexpected verification: %+v", cv)
	}
}

func TestSubmitFeedbackBody(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"message":"Feedback recorded","feedback":"disagree"}`)
	}, nil)

	if err := c.SubmitFeedback(context.Background(), 42, FeedbackDisagree, PredictionReal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["prediction_id"] != float64(42) || got["feedback"] != "disagree" || got["correct_label"] != "Real" {
		t.Errorf("unexpected feedback body: %v", got)
	}
}

func TestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, 50*time.Millisecond, time.Second, nil, nil)
	_, err := c.ClassifyText(context.Background(), "text")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("expected transport error, got APIError %v", apiErr)
	}
}

func TestIsUnauthorized(t *testing.T) {
	if !IsUnauthorized(&APIError{Status: 401}) {
		t.Error("expected 401 to be unauthorized")
	}
	if IsUnauthorized(errors.New("boom")) {
		t.Error("expected plain error not to be unauthorized")
	}
}

func TestPercentClamps(t *testing.T) {
	cases := map[float64]int{-3: 0, 0: 0, 49.5: 50, 99.99: 100, 140: 100}
	for in, want := range cases {
		if got := percent(in); got != want {
			t.Errorf("percent(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestFetchTrendingClampsDays(t *testing.T) {
	var gotDays []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/trending" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotDays = append(gotDays, r.URL.Query().Get("days"))
		io.WriteString(w, `{
			"period_days": 90,
			"total_fake_detected": 12,
			"patterns": [{"pattern": "Advance Fee Fraud", "count": 5, "percentage": 41.7, "severity": "high"}],
			"top_keywords": [{"keyword": "registration fee", "count": 4}],
			"daily_trend": [{"date": "2026-10-12", "count": 3}]
		}`)
	}, nil)

	tr, err := c.FetchTrending(context.Background(), 365)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.TotalFakeDetected != 12 || len(tr.Patterns) != 1 || tr.Patterns[0].Severity != "high" {
		t.Errorf("unexpected trending: %+v", tr)
	}
	if len(tr.TopKeywords) != 1 || tr.TopKeywords[0].Keyword != "registration fee" {
		t.Errorf("unexpected keywords: %+v", tr.TopKeywords)
	}
	if len(tr.DailyTrend) != 1 || tr.DailyTrend[0].Count != 3 {
		t.Errorf("unexpected daily trend: %+v", tr.DailyTrend)
	}

	if _, err := c.FetchTrending(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotDays) != 2 || gotDays[0] != "90" || gotDays[1] != "1" {
		t.Errorf("expected days clamped to 90 and 1, got %v", gotDays)
	}
}

func TestFetchGlobalStatsMergesFeedback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/stats":
			io.WriteString(w, `{
				"total_predictions": 40, "total_fake": 10, "total_real": 30,
				"fake_percentage": 25.0, "total_flagged": 2,
				"daily_trend": [{"date": "2026-10-17", "total": 4, "fake": 1, "real": 3}],
				"model_info": {"accuracy": 0.97}
			}`)
		case "/api/feedback/stats":
			io.WriteString(w, `{"total_feedback": 8, "agrees": 6, "disagrees": 2, "user_agreement_rate": 75.0, "recent": []}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, nil)

	s, err := c.FetchGlobalStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalPredictions != 40 || s.TotalFlagged != 2 || len(s.DailyTrend) != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if s.Feedback == nil || s.Feedback.AgreementRate != 75.0 || s.Feedback.Agrees != 6 {
		t.Errorf("unexpected feedback summary: %+v", s.Feedback)
	}
}

func TestFetchGlobalStatsWithoutFeedback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/feedback/stats" {
			http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{"total_predictions": 1, "total_fake": 1, "total_real": 0, "fake_percentage": 100.0}`)
	}, nil)

	s, err := c.FetchGlobalStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalPredictions != 1 || s.Feedback != nil {
		t.Errorf("expected stats without feedback, got %+v", s)
	}
}
