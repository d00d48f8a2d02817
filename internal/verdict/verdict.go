// Package verdict runs the side effects that follow a single-item verdict
// and the user actions offered on it: company verification, history
// refresh, feedback and flagging. None of them can change the session
// phase; failures are logged and surface as session notices.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/jobcheck/internal/analysis"
	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/metrics"
	"github.com/TobiSchelling/jobcheck/internal/session"
)

var (
	ErrNoVerdict      = errors.New("no verdict to act on")
	ErrNotFlaggable   = errors.New("only Fake verdicts can be flagged")
	ErrNoCompany      = errors.New("company name is empty")
	ErrAlreadyFlagged = errors.New("verdict already flagged")
)

// VerificationCache stores company lookups between runs.
type VerificationCache interface {
	GetVerification(ctx context.Context, name string) (*gateway.CompanyVerification, bool, error)
	SetVerification(ctx context.Context, name string, cv *gateway.CompanyVerification) error
}

// Ledger remembers feedback and flags across process invocations.
type Ledger interface {
	FeedbackGiven(predictionID int64) (bool, error)
	RecordFeedback(predictionID int64, kind, correctLabel string) error
	RecordFlag(predictionID int64, reason string) error
}

// HistorySink keeps a local copy of the backend history.
type HistorySink interface {
	SaveHistory(entries []gateway.HistoryEntry) error
}

// Options configures an Orchestrator. Only Credentials is required for
// authenticated effects; the rest are optional.
type Options struct {
	Credentials  analysis.Credentials
	Cache        VerificationCache
	Ledger       Ledger
	History      HistorySink
	HistoryLimit int
	Timeout      time.Duration
	Logger       *slog.Logger
	// Rules replaces the default rule list when non-nil.
	Rules []Rule
}

// Orchestrator implements analysis.AfterVerdict.
type Orchestrator struct {
	gw    gateway.Gateway
	sess  *session.Session
	opts  Options
	log   *slog.Logger
	rules []Rule
	wg    sync.WaitGroup
}

var _ analysis.AfterVerdict = (*Orchestrator)(nil)

// New creates an orchestrator writing into sess.
func New(gw gateway.Gateway, sess *session.Session, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	o := &Orchestrator{gw: gw, sess: sess, opts: opts, log: opts.Logger}
	if opts.Rules != nil {
		o.rules = opts.Rules
	} else {
		o.rules = DefaultRules(o)
	}
	return o
}

// AfterVerdict evaluates the rule list once for v and runs every matching
// rule in the background. Each rule is isolated from the others' failures.
func (o *Orchestrator) AfterVerdict(gen uint64, mode session.Mode, submitted string, v *gateway.Verdict) {
	in := Input{
		Generation:    gen,
		Mode:          mode,
		Submitted:     submitted,
		Verdict:       v,
		Authenticated: o.authenticated(),
	}

	var matched []Rule
	for _, r := range o.rules {
		if r.When(in) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.Timeout)
		defer cancel()

		var g errgroup.Group
		for _, r := range matched {
			g.Go(func() error {
				if err := r.Run(ctx, in); err != nil {
					o.sideEffectFailed(gen, r.Name, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until all background side effects have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Verify looks a company up, consulting the cache first.
func (o *Orchestrator) Verify(ctx context.Context, name string) (*gateway.CompanyVerification, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoCompany
	}

	key := strings.ToLower(name)
	if o.opts.Cache != nil {
		cv, ok, err := o.opts.Cache.GetVerification(ctx, key)
		if err != nil {
			o.log.Warn("Verification cache read failed", "company", name, "error", err)
		} else if ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return cv, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	cv, err := o.gw.VerifyCompany(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("verifying %q: %w", name, err)
	}
	if o.opts.Cache != nil {
		if err := o.opts.Cache.SetVerification(ctx, key, cv); err != nil {
			o.log.Warn("Verification cache write failed", "company", name, "error", err)
		}
	}
	return cv, nil
}

// VerifyTyped verifies a user-typed company name and, while a verdict is
// shown, stores the result in the same slot the automatic check uses.
func (o *Orchestrator) VerifyTyped(ctx context.Context, name string) (*gateway.CompanyVerification, error) {
	st := o.sess.Snapshot()
	cv, err := o.Verify(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrNoCompany) {
			o.sideEffectFailed(st.Generation, "company-verification", err)
		}
		return nil, err
	}
	if st.Phase == session.PhaseVerdict {
		o.sess.SetCompany(st.Generation, cv)
	}
	return cv, nil
}

// SubmitFeedback sends agree/disagree for the current verdict. Only the
// first call per verdict sends anything; later calls return false.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, kind gateway.FeedbackKind, correctLabel gateway.Prediction) (bool, error) {
	st := o.sess.Snapshot()
	if st.Phase != session.PhaseVerdict || st.Result == nil {
		return false, ErrNoVerdict
	}
	if !o.authenticated() {
		return false, analysis.ErrNotAuthenticated
	}
	if o.opts.Ledger != nil {
		given, err := o.opts.Ledger.FeedbackGiven(st.Result.PredictionID)
		if err != nil {
			o.log.Warn("Feedback ledger read failed", "prediction_id", st.Result.PredictionID, "error", err)
		} else if given {
			// Keep the session in step with the ledger.
			o.sess.ClaimFeedback(st.Generation, kind, correctLabel)
			return false, nil
		}
	}
	if !o.sess.ClaimFeedback(st.Generation, kind, correctLabel) {
		return false, nil
	}

	if err := o.sendFeedback(ctx, st.Result.PredictionID, kind, correctLabel); err != nil {
		o.sideEffectFailed(st.Generation, "feedback", err)
		return true, err
	}
	return true, nil
}

// FeedbackByID sends feedback on a past prediction, guarded by the ledger.
func (o *Orchestrator) FeedbackByID(ctx context.Context, predictionID int64, kind gateway.FeedbackKind, correctLabel gateway.Prediction) (bool, error) {
	if !o.authenticated() {
		return false, analysis.ErrNotAuthenticated
	}
	if o.opts.Ledger != nil {
		given, err := o.opts.Ledger.FeedbackGiven(predictionID)
		if err != nil {
			return false, fmt.Errorf("reading feedback ledger: %w", err)
		}
		if given {
			return false, nil
		}
	}
	if err := o.sendFeedback(ctx, predictionID, kind, correctLabel); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) sendFeedback(ctx context.Context, predictionID int64, kind gateway.FeedbackKind, correctLabel gateway.Prediction) error {
	if err := o.gw.SubmitFeedback(ctx, predictionID, kind, correctLabel); err != nil {
		return err
	}
	o.log.Info("Feedback sent", "prediction_id", predictionID, "feedback", kind)
	if o.opts.Ledger != nil {
		if err := o.opts.Ledger.RecordFeedback(predictionID, string(kind), string(correctLabel)); err != nil {
			o.log.Error("Failed to record feedback", "prediction_id", predictionID, "error", err)
		}
	}
	return nil
}

// Flag reports the current Fake verdict. The request runs in the
// background; a failure becomes a notice and nothing is reverted.
func (o *Orchestrator) Flag(reason string) error {
	st := o.sess.Snapshot()
	if st.Phase != session.PhaseVerdict || st.Result == nil {
		return ErrNoVerdict
	}
	if st.Result.Prediction != gateway.PredictionFake {
		return ErrNotFlaggable
	}
	if !o.authenticated() {
		return analysis.ErrNotAuthenticated
	}
	if !o.sess.MarkFlagged(st.Generation) {
		return ErrAlreadyFlagged
	}

	id := st.Result.PredictionID
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.Timeout)
		defer cancel()
		if err := o.sendFlag(ctx, id, reason); err != nil {
			o.sideEffectFailed(st.Generation, "flag", err)
		}
	}()
	return nil
}

// FlagByID flags a past prediction and waits for the answer.
func (o *Orchestrator) FlagByID(ctx context.Context, predictionID int64, reason string) error {
	if !o.authenticated() {
		return analysis.ErrNotAuthenticated
	}
	return o.sendFlag(ctx, predictionID, reason)
}

func (o *Orchestrator) sendFlag(ctx context.Context, predictionID int64, reason string) error {
	if err := o.gw.FlagPrediction(ctx, predictionID, reason); err != nil {
		return err
	}
	o.log.Info("Prediction flagged", "prediction_id", predictionID)
	if o.opts.Ledger != nil {
		if err := o.opts.Ledger.RecordFlag(predictionID, reason); err != nil {
			o.log.Error("Failed to record flag", "prediction_id", predictionID, "error", err)
		}
	}
	return nil
}

// RefreshHistory fetches the user's recent predictions into the session
// and the local copy.
func (o *Orchestrator) RefreshHistory(ctx context.Context) ([]gateway.HistoryEntry, error) {
	entries, err := o.gw.FetchHistory(ctx, o.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	o.sess.SetHistory(entries)
	if o.opts.History != nil {
		if err := o.opts.History.SaveHistory(entries); err != nil {
			o.log.Warn("Failed to cache history", "error", err)
		}
	}
	return entries, nil
}

func (o *Orchestrator) authenticated() bool {
	return o.opts.Credentials != nil && o.opts.Credentials.Authenticated()
}

func (o *Orchestrator) sideEffectFailed(gen uint64, source string, err error) {
	metrics.SideEffectFailures.WithLabelValues(source).Inc()
	o.log.Error("Side effect failed", "rule", source, "generation", gen, "error", err)
	o.sess.AddNotice(gen, source, err.Error())
}
