package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/TobiSchelling/jobcheck/internal/metrics"
)

// Gateway is the backend contract used by the session components.
type Gateway interface {
	ClassifyText(ctx context.Context, text string) (*Verdict, error)
	ClassifyURL(ctx context.Context, rawURL string) (*Verdict, error)
	ClassifyBulk(ctx context.Context, file Upload) (*BulkReport, error)
	DownloadBulk(ctx context.Context, file Upload) ([]byte, error)
	ClassifyImage(ctx context.Context, file Upload) (*Verdict, error)
	VerifyCompany(ctx context.Context, name string) (*CompanyVerification, error)
	SubmitFeedback(ctx context.Context, predictionID int64, kind FeedbackKind, correctLabel Prediction) error
	FlagPrediction(ctx context.Context, predictionID int64, reason string) error
	FetchHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
	FetchStats(ctx context.Context) (*Stats, error)
	FetchTrending(ctx context.Context, days int) (*Trending, error)
	FetchGlobalStats(ctx context.Context) (*GlobalStats, error)
}

// Client talks to the analysis backend over HTTP.
type Client struct {
	BaseURL string
	tokens  oauth2.TokenSource
	client  *http.Client
	bulk    *http.Client
	logger  *slog.Logger
}

// NewClient creates a backend client. tokens may be nil for anonymous use.
// Bulk operations get their own, longer timeout.
func NewClient(baseURL string, timeout, bulkTimeout time.Duration, tokens oauth2.TokenSource, logger *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if bulkTimeout == 0 {
		bulkTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		bulk:    &http.Client{Timeout: bulkTimeout},
		logger:  logger,
	}
}

var _ Gateway = (*Client)(nil)

func (c *Client) ClassifyText(ctx context.Context, text string) (*Verdict, error) {
	var w wireVerdict
	if err := c.postJSON(ctx, "classify-text", "/api/predict", map[string]string{"job_text": text}, &w); err != nil {
		return nil, err
	}
	return w.toVerdict()
}

func (c *Client) ClassifyURL(ctx context.Context, rawURL string) (*Verdict, error) {
	var w wireVerdict
	if err := c.postJSON(ctx, "classify-url", "/api/predict-url", map[string]string{"url": rawURL}, &w); err != nil {
		return nil, err
	}
	return w.toVerdict()
}

func (c *Client) ClassifyBulk(ctx context.Context, file Upload) (*BulkReport, error) {
	req, err := c.multipartRequest(ctx, "/api/predict-bulk", file, "text/csv")
	if err != nil {
		return nil, err
	}
	var w wireBulkReport
	if err := c.doJSON(c.bulk, "classify-bulk", req, &w); err != nil {
		return nil, err
	}
	return w.toReport(), nil
}

// DownloadBulk re-submits the batch and returns the backend's CSV export.
func (c *Client) DownloadBulk(ctx context.Context, file Upload) ([]byte, error) {
	req, err := c.multipartRequest(ctx, "/api/predict-bulk/download", file, "text/csv")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.bulk, "classify-bulk-download", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}
	return data, nil
}

func (c *Client) ClassifyImage(ctx context.Context, file Upload) (*Verdict, error) {
	req, err := c.multipartRequest(ctx, "/api/predict-image", file, ImageContentType(file))
	if err != nil {
		return nil, err
	}
	var w wireVerdict
	if err := c.doJSON(c.client, "classify-image", req, &w); err != nil {
		return nil, err
	}
	return w.toVerdict()
}

func (c *Client) VerifyCompany(ctx context.Context, name string) (*CompanyVerification, error) {
	var w wireVerification
	if err := c.postJSON(ctx, "verify-company", "/api/verify-company", map[string]string{"company_name": name}, &w); err != nil {
		return nil, err
	}
	return w.toVerification(), nil
}

func (c *Client) SubmitFeedback(ctx context.Context, predictionID int64, kind FeedbackKind, correctLabel Prediction) error {
	body := map[string]any{
		"prediction_id": predictionID,
		"feedback":      string(kind),
		"correct_label": string(correctLabel),
	}
	return c.postJSON(ctx, "submit-feedback", "/api/feedback", body, nil)
}

func (c *Client) FlagPrediction(ctx context.Context, predictionID int64, reason string) error {
	body := map[string]any{
		"prediction_id": predictionID,
		"reason":        reason,
	}
	return c.postJSON(ctx, "flag-prediction", "/api/flag", body, nil)
}

func (c *Client) FetchHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	req, err := c.newRequest(ctx, http.MethodGet, "/api/my-predictions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Predictions []wireHistoryEntry `json:"predictions"`
	}
	if err := c.doJSON(c.client, "fetch-history", req, &result); err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(result.Predictions))
	for _, p := range result.Predictions {
		entries = append(entries, HistoryEntry{
			ID:         p.ID,
			JobText:    p.JobText,
			Prediction: Prediction(p.Prediction),
			Confidence: p.Confidence,
			CreatedAt:  parseTimestamp(p.CreatedAt),
		})
	}
	return entries, nil
}

func (c *Client) FetchStats(ctx context.Context) (*Stats, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/my-stats", nil)
	if err != nil {
		return nil, err
	}
	var stats Stats
	if err := c.doJSON(c.client, "fetch-stats", req, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// MaxTrendingDays is the widest window the backend looks back over.
const MaxTrendingDays = 90

// FetchTrending returns scam patterns seen over the past days, clamped to
// 1..MaxTrendingDays.
func (c *Client) FetchTrending(ctx context.Context, days int) (*Trending, error) {
	days = max(1, min(days, MaxTrendingDays))
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	req, err := c.newRequest(ctx, http.MethodGet, "/api/trending?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var t Trending
	if err := c.doJSON(c.client, "fetch-trending", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// FetchGlobalStats returns the backend-wide summary. A failed feedback
// summary is logged and leaves Feedback nil.
func (c *Client) FetchGlobalStats(ctx context.Context) (*GlobalStats, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/stats", nil)
	if err != nil {
		return nil, err
	}
	var stats GlobalStats
	if err := c.doJSON(c.client, "fetch-global-stats", req, &stats); err != nil {
		return nil, err
	}

	req, err = c.newRequest(ctx, http.MethodGet, "/api/feedback/stats", nil)
	if err != nil {
		return nil, err
	}
	var fb FeedbackStats
	if err := c.doJSON(c.client, "fetch-feedback-stats", req, &fb); err != nil {
		c.logger.Warn("Feedback summary unavailable", "error", err)
		return &stats, nil
	}
	stats.Feedback = &fb
	return &stats, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(c.client, op, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "jobcheck/1.0")
	req.Header.Set("X-Request-ID", uuid.NewString())
	c.authorize(req)
	return req, nil
}

// authorize attaches the bearer token when one is available. Missing or
// unreadable credentials leave the request anonymous.
func (c *Client) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	tok, err := c.tokens.Token()
	if err != nil || tok == nil || tok.AccessToken == "" {
		return
	}
	tok.SetAuthHeader(req)
}

func (c *Client) multipartRequest(ctx context.Context, path string, file Upload, contentType string) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(file.Name)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("writing multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (c *Client) doJSON(hc *http.Client, op string, req *http.Request, out any) error {
	resp, err := c.do(hc, op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

// do sends the request and turns non-2xx responses into *APIError.
// On success the caller owns resp.Body.
func (c *Client) do(hc *http.Client, op string, req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get("X-Request-ID")
	start := time.Now()

	resp, err := hc.Do(req)
	metrics.GatewayRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "error").Inc()
		c.logger.Debug("Backend request failed", "operation", op, "request_id", requestID, "error", err)
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	metrics.GatewayRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode, Detail: parseDetail(body), RequestID: requestID}
		c.logger.Debug("Backend returned error", "operation", op, "request_id", requestID,
			"status", resp.StatusCode, "detail", apiErr.Detail)
		return nil, apiErr
	}
	return resp, nil
}

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// ReadUpload loads a local file for submission.
func ReadUpload(path string) (Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Upload{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Upload{Name: filepath.Base(path), Data: data}, nil
}

// ImageContentType picks the part content type for an image upload from the
// file extension, falling back to sniffing the bytes.
func ImageContentType(file Upload) string {
	ext := strings.ToLower(filepath.Ext(file.Name))
	if ct, ok := imageTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
		return ct
	}
	ct := http.DetectContentType(file.Data)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ct
}
