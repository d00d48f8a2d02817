// Package analysis coordinates one submission at a time: validation, the
// single-flight guard, the progress simulator, the backend call and the
// terminal phase change.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/jobcheck/internal/bulk"
	"github.com/TobiSchelling/jobcheck/internal/config"
	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/metrics"
	"github.com/TobiSchelling/jobcheck/internal/progress"
	"github.com/TobiSchelling/jobcheck/internal/session"
)

// Credentials reports whether a bearer credential is available.
type Credentials interface {
	Authenticated() bool
}

// AfterVerdict runs the post-verdict side effects for one verdict.
type AfterVerdict interface {
	AfterVerdict(gen uint64, mode session.Mode, submitted string, v *gateway.Verdict)
}

// Journal keeps a local record of completed analyses.
type Journal interface {
	RecordVerdict(mode string, input string, v *gateway.Verdict) (int64, error)
	RecordBulk(fileName string, r *bulk.Report) (int64, error)
}

// Options configures a Coordinator. Zero values fall back to defaults.
type Options struct {
	Profiles        map[session.Mode]progress.Profile
	CompletionDelay time.Duration
	Credentials     Credentials
	After           AfterVerdict
	Journal         Journal
	Logger          *slog.Logger
	// Step overrides the simulator's random increment, for tests.
	Step func(max int) int
}

// Coordinator submits inputs to the backend on behalf of a Session.
type Coordinator struct {
	gw    gateway.Gateway
	sess  *session.Session
	opts  Options
	log   *slog.Logger
	delay time.Duration

	mu     sync.Mutex
	sim    *progress.Simulator
	cancel context.CancelFunc
}

// DefaultProfiles are the per-mode tick settings.
func DefaultProfiles() map[session.Mode]progress.Profile {
	return map[session.Mode]progress.Profile{
		session.ModeText:  {Period: 150 * time.Millisecond, MaxStep: 8},
		session.ModeURL:   {Period: 200 * time.Millisecond, MaxStep: 6},
		session.ModeCSV:   {Period: 200 * time.Millisecond, MaxStep: 3},
		session.ModeImage: {Period: 180 * time.Millisecond, MaxStep: 5},
	}
}

// ProfilesFromConfig builds per-mode profiles from the progress config.
func ProfilesFromConfig(cfg config.Progress) map[session.Mode]progress.Profile {
	conv := func(m config.ModeProgress) progress.Profile {
		return progress.Profile{Period: m.Period.Std(), MaxStep: m.MaxStep}
	}
	return map[session.Mode]progress.Profile{
		session.ModeText:  conv(cfg.Text),
		session.ModeURL:   conv(cfg.URL),
		session.ModeCSV:   conv(cfg.CSV),
		session.ModeImage: conv(cfg.Image),
	}
}

// New creates a coordinator for sess.
func New(gw gateway.Gateway, sess *session.Session, opts Options) *Coordinator {
	if opts.Profiles == nil {
		opts.Profiles = DefaultProfiles()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	delay := opts.CompletionDelay
	if delay < 0 {
		delay = 0
	}
	return &Coordinator{gw: gw, sess: sess, opts: opts, log: opts.Logger, delay: delay}
}

// Session returns the session this coordinator drives.
func (c *Coordinator) Session() *session.Session {
	return c.sess
}

// SubmitText classifies pasted posting text.
func (c *Coordinator) SubmitText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return c.reject(session.ModeText, ErrEmptyInput)
	}
	return c.submitVerdict(ctx, session.ModeText, text, nil, func(ctx context.Context) (*gateway.Verdict, error) {
		return c.gw.ClassifyText(ctx, text)
	})
}

// SubmitURL classifies the posting at rawURL. The URL is sent as typed;
// the backend decides whether it is usable.
func (c *Coordinator) SubmitURL(ctx context.Context, rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return c.reject(session.ModeURL, ErrEmptyInput)
	}
	return c.submitVerdict(ctx, session.ModeURL, rawURL, nil, func(ctx context.Context) (*gateway.Verdict, error) {
		return c.gw.ClassifyURL(ctx, strings.TrimSpace(rawURL))
	})
}

// SubmitImage classifies a screenshot. A credential is optional.
func (c *Coordinator) SubmitImage(ctx context.Context, file *gateway.Upload) error {
	if file == nil {
		return c.reject(session.ModeImage, ErrNoFile)
	}
	return c.submitVerdict(ctx, session.ModeImage, "", file, func(ctx context.Context) (*gateway.Verdict, error) {
		return c.gw.ClassifyImage(ctx, *file)
	})
}

// SubmitBulkCSV classifies every row of a CSV. It needs a credential.
func (c *Coordinator) SubmitBulkCSV(ctx context.Context, file *gateway.Upload) error {
	if err := c.checkBulk(file); err != nil {
		return err
	}

	var report *bulk.Report
	return c.run(ctx, session.ModeCSV, "", file,
		func(ctx context.Context) error {
			raw, err := c.gw.ClassifyBulk(ctx, *file)
			if err != nil {
				return err
			}
			report = bulk.Aggregate(raw)
			return nil
		},
		func(gen uint64) {
			if !c.sess.SucceedBulk(gen, report) {
				return
			}
			metrics.Submissions.WithLabelValues(string(session.ModeCSV), "bulk").Inc()
			if len(report.Warnings) > 0 {
				metrics.BulkWarnings.Add(float64(len(report.Warnings)))
				c.log.Warn("Bulk report is inconsistent", "file", file.Name, "warnings", report.Warnings)
			}
			if c.opts.Journal != nil {
				if _, err := c.opts.Journal.RecordBulk(file.Name, report); err != nil {
					c.log.Error("Failed to record bulk run", "file", file.Name, "error", err)
				}
			}
		},
	)
}

// ExportBulkCSV re-submits file and returns the backend's CSV export. It
// checks its inputs exactly like SubmitBulkCSV and never reads the report
// held by the session.
func (c *Coordinator) ExportBulkCSV(ctx context.Context, file *gateway.Upload) ([]byte, error) {
	if err := c.checkBulk(file); err != nil {
		return nil, err
	}
	data, err := c.gw.DownloadBulk(ctx, *file)
	if err != nil {
		return nil, &RequestError{Mode: session.ModeCSV, Err: err}
	}
	return data, nil
}

// Reset abandons any outstanding submission and returns the session to
// Input.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	cancel := c.cancel
	sim := c.sim
	c.mu.Unlock()

	// Bump the generation first so nothing from the abandoned submission
	// is accepted while it unwinds.
	c.sess.Reset()
	if cancel != nil {
		cancel()
	}
	if sim != nil {
		sim.Stop()
	}
}

func (c *Coordinator) checkBulk(file *gateway.Upload) error {
	if c.opts.Credentials == nil || !c.opts.Credentials.Authenticated() {
		return c.reject(session.ModeCSV, ErrNotAuthenticated)
	}
	if file == nil {
		return c.reject(session.ModeCSV, ErrNoFile)
	}
	return nil
}

func (c *Coordinator) reject(mode session.Mode, err error) error {
	metrics.Submissions.WithLabelValues(string(mode), "rejected").Inc()
	return &ValidationError{Mode: mode, Err: err}
}

func (c *Coordinator) submitVerdict(ctx context.Context, mode session.Mode, text string, file *gateway.Upload,
	call func(context.Context) (*gateway.Verdict, error)) error {
	var v *gateway.Verdict
	return c.run(ctx, mode, text, file,
		func(ctx context.Context) error {
			var err error
			if v, err = call(ctx); err != nil {
				return err
			}
			return v.Validate()
		},
		func(gen uint64) {
			if !c.sess.Succeed(gen, v) {
				return
			}
			metrics.Submissions.WithLabelValues(string(mode), "verdict").Inc()
			metrics.Verdicts.WithLabelValues(string(v.Prediction)).Inc()
			c.log.Info("Verdict received", "mode", mode, "prediction", v.Prediction,
				"confidence", v.Confidence, "prediction_id", v.PredictionID)

			if c.opts.Journal != nil {
				input := text
				if file != nil {
					input = file.Name
				}
				if _, err := c.opts.Journal.RecordVerdict(string(mode), input, v); err != nil {
					c.log.Error("Failed to record verdict", "prediction_id", v.PredictionID, "error", err)
				}
			}
			if c.opts.After != nil {
				submitted := text
				if mode == session.ModeImage {
					submitted = v.ExtractedText
				}
				c.opts.After.AfterVerdict(gen, mode, submitted, v)
			}
		},
	)
}

// run is the shared submission shape. call talks to the backend; finish
// applies the terminal transition after progress has reached 100 and the
// completion delay has passed.
func (c *Coordinator) run(ctx context.Context, mode session.Mode, text string, file *gateway.Upload,
	call func(context.Context) error, finish func(gen uint64)) error {
	if !c.sess.TryAcquire() {
		metrics.Submissions.WithLabelValues(string(mode), "rejected").Inc()
		return ErrInFlight
	}
	defer c.sess.Release()

	if c.sess.Snapshot().Phase != session.PhaseInput {
		c.sess.Reset()
	}
	gen, err := c.sess.Begin(mode, text, file)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sim := c.startSimulator(ctx, gen, mode, cancel)
	defer c.clearSimulator(sim)

	c.log.Debug("Submission started", "mode", mode, "generation", gen)
	if err := call(ctx); err != nil {
		sim.Stop()
		return c.fail(gen, mode, err)
	}

	sim.Finish()
	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			// Cancelled after the response arrived: leave Scanning the same
			// way a cancelled request does.
			timer.Stop()
			return c.fail(gen, mode, ctx.Err())
		}
	}
	finish(gen)
	return nil
}

// fail returns the session to Input. A stale gen (after Reset) is dropped
// by the session.
func (c *Coordinator) fail(gen uint64, mode session.Mode, err error) error {
	reqErr := &RequestError{Mode: mode, Err: err}
	if c.sess.Fail(gen, reqErr) {
		metrics.Submissions.WithLabelValues(string(mode), "failed").Inc()
		c.log.Warn("Submission failed", "mode", mode, "error", err)
	}
	return reqErr
}

func (c *Coordinator) startSimulator(ctx context.Context, gen uint64, mode session.Mode, cancel context.CancelFunc) *progress.Simulator {
	profile, ok := c.opts.Profiles[mode]
	if !ok {
		profile = DefaultProfiles()[mode]
	}
	sim := progress.New(profile, func(v int) { c.sess.SetProgress(gen, v) }, c.opts.Step)

	c.mu.Lock()
	prev := c.sim
	c.sim = sim
	c.cancel = cancel
	c.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	sim.Start(ctx)
	return sim
}

func (c *Coordinator) clearSimulator(sim *progress.Simulator) {
	c.mu.Lock()
	if c.sim == sim {
		c.sim = nil
		c.cancel = nil
	}
	c.mu.Unlock()
}

// IsValidation reports whether err rejected a submission before any request.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
