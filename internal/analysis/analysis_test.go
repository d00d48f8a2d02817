package analysis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/jobcheck/internal/bulk"
	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/logging"
	"github.com/TobiSchelling/jobcheck/internal/progress"
	"github.com/TobiSchelling/jobcheck/internal/session"
)

// mockGateway answers from fixed values and counts calls. When block is
// set, classify calls wait until it is closed or ctx ends.
type mockGateway struct {
	verdict *gateway.Verdict
	report  *gateway.BulkReport
	export  []byte
	err     error
	block   chan struct{}
	calls   atomic.Int32
}

func (m *mockGateway) wait(ctx context.Context) error {
	m.calls.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *mockGateway) ClassifyText(ctx context.Context, text string) (*gateway.Verdict, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.verdict, nil
}

func (m *mockGateway) ClassifyURL(ctx context.Context, rawURL string) (*gateway.Verdict, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.verdict, nil
}

func (m *mockGateway) ClassifyBulk(ctx context.Context, file gateway.Upload) (*gateway.BulkReport, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.report, nil
}

func (m *mockGateway) DownloadBulk(ctx context.Context, file gateway.Upload) ([]byte, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.export, nil
}

func (m *mockGateway) ClassifyImage(ctx context.Context, file gateway.Upload) (*gateway.Verdict, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.verdict, nil
}

func (m *mockGateway) VerifyCompany(ctx context.Context, name string) (*gateway.CompanyVerification, error) {
	return &gateway.CompanyVerification{}, nil
}

func (m *mockGateway) SubmitFeedback(ctx context.Context, id int64, kind gateway.FeedbackKind, label gateway.Prediction) error {
	return nil
}

func (m *mockGateway) FlagPrediction(ctx context.Context, id int64, reason string) error {
	return nil
}

func (m *mockGateway) FetchHistory(ctx context.Context, limit int) ([]gateway.HistoryEntry, error) {
	return nil, nil
}

func (m *mockGateway) FetchStats(ctx context.Context) (*gateway.Stats, error) {
	return &gateway.Stats{}, nil
}

func (m *mockGateway) FetchTrending(ctx context.Context, days int) (*gateway.Trending, error) {
	return &gateway.Trending{PeriodDays: days}, nil
}

func (m *mockGateway) FetchGlobalStats(ctx context.Context) (*gateway.GlobalStats, error) {
	return &gateway.GlobalStats{}, nil
}

type staticCreds bool

func (c staticCreds) Authenticated() bool { return bool(c) }

type afterRecorder struct {
	mu    sync.Mutex
	calls []uint64
}

func (a *afterRecorder) AfterVerdict(gen uint64, mode session.Mode, submitted string, v *gateway.Verdict) {
	a.mu.Lock()
	a.calls = append(a.calls, gen)
	a.mu.Unlock()
}

type mockJournal struct {
	verdicts int
	bulks    int
}

func (j *mockJournal) RecordVerdict(mode, input string, v *gateway.Verdict) (int64, error) {
	j.verdicts++
	return int64(j.verdicts), nil
}

func (j *mockJournal) RecordBulk(name string, r *bulk.Report) (int64, error) {
	j.bulks++
	return int64(j.bulks), nil
}

// observer records phase changes and every progress value per phase.
type observer struct {
	mu       sync.Mutex
	phases   []session.Phase
	progress []int
	atChange map[session.Phase]int
}

func newObserver() *observer {
	return &observer{phases: []session.Phase{session.PhaseInput}, atChange: map[session.Phase]int{}}
}

func (o *observer) record(st session.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phases[len(o.phases)-1] != st.Phase {
		o.phases = append(o.phases, st.Phase)
		o.atChange[st.Phase] = st.Progress
	}
	if st.Phase == session.PhaseScanning {
		o.progress = append(o.progress, st.Progress)
	}
}

func (o *observer) get() ([]session.Phase, []int, map[session.Phase]int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]session.Phase(nil), o.phases...), append([]int(nil), o.progress...), o.atChange
}

func fastProfiles() map[session.Mode]progress.Profile {
	p := progress.Profile{Period: time.Millisecond, MaxStep: 8}
	return map[session.Mode]progress.Profile{
		session.ModeText: p, session.ModeURL: p, session.ModeCSV: p, session.ModeImage: p,
	}
}

func newTestCoordinator(gw gateway.Gateway, opts Options) (*Coordinator, *observer) {
	sess := session.New()
	obs := newObserver()
	sess.OnChange(obs.record)
	if opts.Profiles == nil {
		opts.Profiles = fastProfiles()
	}
	if opts.CompletionDelay == 0 {
		opts.CompletionDelay = 5 * time.Millisecond
	}
	opts.Logger = logging.Discard()
	return New(gw, sess, opts), obs
}

func samePhases(got []session.Phase, want ...session.Phase) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestSubmitTextSuccess(t *testing.T) {
	gw := &mockGateway{verdict: &gateway.Verdict{PredictionID: 11, Prediction: gateway.PredictionFake, Confidence: 93}}
	after := &afterRecorder{}
	journal := &mockJournal{}
	c, obs := newTestCoordinator(gw, Options{After: after, Journal: journal})

	if err := c.SubmitText(context.Background(), "Work from home, $5000/week, pay the training fee"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := c.Session().Snapshot()
	if st.Phase != session.PhaseVerdict || st.Result == nil {
		t.Fatalf("expected verdict, got %+v", st)
	}
	if st.Result.Confidence < 0 || st.Result.Confidence > 100 {
		t.Errorf("confidence out of range: %d", st.Result.Confidence)
	}
	phases, values, atChange := obs.get()
	if !samePhases(phases, session.PhaseInput, session.PhaseScanning, session.PhaseVerdict) {
		t.Errorf("unexpected phase sequence %v", phases)
	}
	if atChange[session.PhaseVerdict] != 100 {
		t.Errorf("expected progress 100 at verdict, got %d", atChange[session.PhaseVerdict])
	}
	// Only the forced completion may reach 100 while scanning.
	for i, v := range values {
		if v >= 100 && i != len(values)-1 {
			t.Errorf("progress %d reported before completion", v)
		}
	}
	if len(after.calls) != 1 || after.calls[0] != st.Generation {
		t.Errorf("expected one post-verdict run for generation %d, got %v", st.Generation, after.calls)
	}
	if journal.verdicts != 1 {
		t.Errorf("expected verdict journaled once, got %d", journal.verdicts)
	}
}

func TestSubmitEmptyTextNoRequest(t *testing.T) {
	gw := &mockGateway{}
	c, obs := newTestCoordinator(gw, Options{})

	for _, in := range []string{"", "   \n\t"} {
		err := c.SubmitText(context.Background(), in)
		var verr *ValidationError
		if !errors.As(err, &verr) || !errors.Is(err, ErrEmptyInput) {
			t.Errorf("expected ValidationError(ErrEmptyInput), got %v", err)
		}
	}
	if gw.calls.Load() != 0 {
		t.Errorf("expected no backend call, got %d", gw.calls.Load())
	}
	if phases, _, _ := obs.get(); len(phases) != 1 {
		t.Errorf("expected no phase change, got %v", phases)
	}
}

func TestSubmitURLFailureKeepsURL(t *testing.T) {
	apiErr := &gateway.APIError{Status: 400, Detail: "Could not scrape the page. Please paste the text instead."}
	gw := &mockGateway{err: apiErr}
	c, obs := newTestCoordinator(gw, Options{})

	err := c.SubmitURL(context.Background(), "https://jobs.example.com/broken")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Mode != session.ModeURL || err.Error() != apiErr.Detail {
		t.Errorf("unexpected request error %q (%s)", err.Error(), reqErr.Mode)
	}
	var gotAPI *gateway.APIError
	if !errors.As(err, &gotAPI) || gotAPI.Status != 400 {
		t.Errorf("expected wrapped APIError, got %v", err)
	}

	st := c.Session().Snapshot()
	if st.Phase != session.PhaseInput || st.PendingInput != "https://jobs.example.com/broken" || st.Progress != 0 {
		t.Errorf("unexpected state after failure: %+v", st)
	}
	if phases, _, _ := obs.get(); !samePhases(phases, session.PhaseInput, session.PhaseScanning, session.PhaseInput) {
		t.Errorf("unexpected phase sequence %v", phases)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	gw := &mockGateway{err: errors.New("connection refused")}
	c, _ := newTestCoordinator(gw, Options{})

	if err := c.SubmitText(context.Background(), "Remote role"); err == nil {
		t.Fatal("expected failure")
	}
	gw.err = nil
	gw.verdict = &gateway.Verdict{Prediction: gateway.PredictionReal, Confidence: 77}
	if err := c.SubmitText(context.Background(), "Remote role"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if gw.calls.Load() != 2 {
		t.Errorf("expected two requests, got %d", gw.calls.Load())
	}
	if st := c.Session().Snapshot(); st.Phase != session.PhaseVerdict || st.Err != nil {
		t.Errorf("unexpected state after retry: %+v", st)
	}
}

func TestSubmitWhileScanningRejected(t *testing.T) {
	gw := &mockGateway{verdict: &gateway.Verdict{Prediction: gateway.PredictionReal}, block: make(chan struct{})}
	c, _ := newTestCoordinator(gw, Options{})

	done := make(chan error, 1)
	go func() { done <- c.SubmitText(context.Background(), "first") }()

	deadline := time.Now().Add(2 * time.Second)
	for c.Session().Snapshot().Phase != session.PhaseScanning {
		if time.Now().After(deadline) {
			t.Fatal("submission never entered scanning")
		}
		time.Sleep(time.Millisecond)
	}

	before := c.Session().Snapshot()
	if err := c.SubmitText(context.Background(), "second"); !errors.Is(err, ErrInFlight) {
		t.Errorf("expected ErrInFlight, got %v", err)
	}
	after := c.Session().Snapshot()
	if after.PendingInput != "first" || after.Generation != before.Generation || after.Phase != session.PhaseScanning {
		t.Errorf("expected session unchanged, got %+v", after)
	}

	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
	if gw.calls.Load() != 1 {
		t.Errorf("expected one request, got %d", gw.calls.Load())
	}
}

func TestBulkRequiresCredential(t *testing.T) {
	gw := &mockGateway{report: &gateway.BulkReport{}}
	c, _ := newTestCoordinator(gw, Options{Credentials: staticCreds(false)})

	err := c.SubmitBulkCSV(context.Background(), &gateway.Upload{Name: "jobs.csv"})
	if !IsValidation(err) || !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ValidationError(ErrNotAuthenticated), got %v", err)
	}
	if _, err := c.ExportBulkCSV(context.Background(), &gateway.Upload{Name: "jobs.csv"}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected export to require a credential, got %v", err)
	}
	if gw.calls.Load() != 0 {
		t.Errorf("expected no request, got %d", gw.calls.Load())
	}
	if st := c.Session().Snapshot(); st.Phase != session.PhaseInput {
		t.Errorf("expected input phase, got %s", st.Phase)
	}
}

func TestMissingFiles(t *testing.T) {
	c, _ := newTestCoordinator(&mockGateway{}, Options{Credentials: staticCreds(true)})
	if err := c.SubmitBulkCSV(context.Background(), nil); !errors.Is(err, ErrNoFile) {
		t.Errorf("expected ErrNoFile for csv, got %v", err)
	}
	if err := c.SubmitImage(context.Background(), nil); !errors.Is(err, ErrNoFile) {
		t.Errorf("expected ErrNoFile for image, got %v", err)
	}
}

func TestSubmitBulkCSV(t *testing.T) {
	gw := &mockGateway{report: &gateway.BulkReport{
		TotalAnalyzed: 2, TotalFake: 1, TotalReal: 1, FraudRate: 50,
		Rows: []gateway.BulkRow{
			{Row: 1, Prediction: gateway.PredictionFake, Confidence: 90},
			{Row: 2, Prediction: gateway.PredictionReal, Confidence: 80},
		},
	}}
	after := &afterRecorder{}
	journal := &mockJournal{}
	c, obs := newTestCoordinator(gw, Options{Credentials: staticCreds(true), After: after, Journal: journal})

	if err := c.SubmitBulkCSV(context.Background(), &gateway.Upload{Name: "jobs.csv", Data: []byte("description\n")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := c.Session().Snapshot()
	if st.Phase != session.PhaseBulkResults || st.Bulk == nil || st.Result != nil {
		t.Fatalf("unexpected state: %+v", st)
	}
	if !st.Bulk.Consistent() {
		t.Errorf("expected consistent report, got %v", st.Bulk.Warnings)
	}
	if phases, _, _ := obs.get(); !samePhases(phases, session.PhaseInput, session.PhaseScanning, session.PhaseBulkResults) {
		t.Errorf("unexpected phases %v", phases)
	}
	if len(after.calls) != 0 {
		t.Error("post-verdict effects must not run for bulk results")
	}
	if journal.bulks != 1 {
		t.Errorf("expected bulk run journaled, got %d", journal.bulks)
	}
}

func TestExportIsSeparateRequest(t *testing.T) {
	gw := &mockGateway{export: []byte("row,prediction\n1,Fake\n")}
	c, _ := newTestCoordinator(gw, Options{Credentials: staticCreds(true)})

	data, err := c.ExportBulkCSV(context.Background(), &gateway.Upload{Name: "jobs.csv"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "row,prediction\n1,Fake\n" {
		t.Errorf("unexpected export %q", data)
	}
	if gw.calls.Load() != 1 {
		t.Errorf("expected one request, got %d", gw.calls.Load())
	}
	if st := c.Session().Snapshot(); st.Phase != session.PhaseInput {
		t.Errorf("export must not change phase, got %s", st.Phase)
	}
}

func TestSubmitImageWithoutCredential(t *testing.T) {
	gw := &mockGateway{verdict: &gateway.Verdict{Prediction: gateway.PredictionReal, ExtractedText: "Hiring nurses"}}
	c, _ := newTestCoordinator(gw, Options{Credentials: staticCreds(false)})

	if err := c.SubmitImage(context.Background(), &gateway.Upload{Name: "shot.png"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st := c.Session().Snapshot(); st.Phase != session.PhaseVerdict {
		t.Errorf("expected verdict, got %s", st.Phase)
	}
}

func TestNewSubmissionFromVerdictResets(t *testing.T) {
	gw := &mockGateway{verdict: &gateway.Verdict{PredictionID: 1, Prediction: gateway.PredictionFake}}
	c, _ := newTestCoordinator(gw, Options{})

	if err := c.SubmitText(context.Background(), "one"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := c.Session().Snapshot()
	c.Session().Annotate(first.Generation, "language", "en")

	gw.verdict = &gateway.Verdict{PredictionID: 2, Prediction: gateway.PredictionReal}
	if err := c.SubmitText(context.Background(), "two"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := c.Session().Snapshot()
	if st.Result.PredictionID != 2 || st.Annotations != nil || st.Generation <= first.Generation {
		t.Errorf("expected fresh verdict, got %+v", st)
	}
}

func TestResetDuringScanningAbandonsSubmission(t *testing.T) {
	gw := &mockGateway{verdict: &gateway.Verdict{Prediction: gateway.PredictionReal}, block: make(chan struct{})}
	c, _ := newTestCoordinator(gw, Options{})

	done := make(chan error, 1)
	go func() { done <- c.SubmitText(context.Background(), "slow") }()
	for c.Session().Snapshot().Phase != session.PhaseScanning {
		time.Sleep(time.Millisecond)
	}

	c.Reset()
	if err := <-done; err == nil {
		t.Fatal("expected abandoned submission to return an error")
	}
	st := c.Session().Snapshot()
	if st.Phase != session.PhaseInput || st.Progress != 0 || st.Err != nil || st.PendingInput != "" {
		t.Errorf("expected clean input state, got %+v", st)
	}

	// The guard is free again once the abandoned submission unwound.
	close(gw.block)
	if err := c.SubmitText(context.Background(), "next"); err != nil {
		t.Fatalf("expected next submission to run, got %v", err)
	}
}

func TestCancelDuringCompletionDelayReturnsToInput(t *testing.T) {
	gw := &mockGateway{verdict: &gateway.Verdict{Prediction: gateway.PredictionFake, Confidence: 90}}
	c, obs := newTestCoordinator(gw, Options{CompletionDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.SubmitText(ctx, "Pay a fee to start") }()
	for st := c.Session().Snapshot(); st.Phase != session.PhaseScanning || st.Progress != 100; st = c.Session().Snapshot() {
		time.Sleep(time.Millisecond)
	}

	cancel()
	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Errorf("expected RequestError, got %T", err)
	}

	st := c.Session().Snapshot()
	if st.Phase != session.PhaseInput || st.Progress != 0 || st.Result != nil || st.Err == nil {
		t.Errorf("expected failed input state, got %+v", st)
	}
	if st.PendingInput != "Pay a fee to start" {
		t.Errorf("expected typed text kept, got %q", st.PendingInput)
	}
	if c.Session().Busy() {
		t.Error("expected guard released")
	}
	phases, _, _ := obs.get()
	if !samePhases(phases, session.PhaseInput, session.PhaseScanning, session.PhaseInput) {
		t.Errorf("unexpected phases %v", phases)
	}
}

func TestUnlabelledVerdictFails(t *testing.T) {
	gw := &mockGateway{verdict: &gateway.Verdict{PredictionID: 3}}
	after := &afterRecorder{}
	journal := &mockJournal{}
	c, obs := newTestCoordinator(gw, Options{After: after, Journal: journal})

	err := c.SubmitText(context.Background(), "Data entry from home")
	if !errors.Is(err, gateway.ErrMalformedVerdict) {
		t.Fatalf("expected malformed verdict error, got %v", err)
	}
	st := c.Session().Snapshot()
	if st.Phase != session.PhaseInput || st.Result != nil || st.Err == nil {
		t.Errorf("expected failure state, got %+v", st)
	}
	if journal.verdicts != 0 || len(after.calls) != 0 {
		t.Errorf("expected nothing journaled or chained, got %d/%d", journal.verdicts, len(after.calls))
	}
	phases, _, _ := obs.get()
	if !samePhases(phases, session.PhaseInput, session.PhaseScanning, session.PhaseInput) {
		t.Errorf("unexpected phases %v", phases)
	}
}

func TestDefaultProfilesWithinBounds(t *testing.T) {
	for mode, p := range DefaultProfiles() {
		if p.Period < 150*time.Millisecond || p.Period > 200*time.Millisecond {
			t.Errorf("%s: period %s outside 150-200ms", mode, p.Period)
		}
		if p.MaxStep < 1 {
			t.Errorf("%s: max step %d", mode, p.MaxStep)
		}
	}
}
