package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/TobiSchelling/jobcheck/internal/analysis"
	"github.com/TobiSchelling/jobcheck/internal/auth"
	"github.com/TobiSchelling/jobcheck/internal/cache"
	"github.com/TobiSchelling/jobcheck/internal/database"
	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/session"
	"github.com/TobiSchelling/jobcheck/internal/verdict"
)

// app holds one wired session: the journal, the credential store, the
// backend client and the two orchestration layers on top of it.
type app struct {
	db     *database.DB
	tokens *auth.Store
	gw     *gateway.Client
	sess   *session.Session
	coord  *analysis.Coordinator
	orch   *verdict.Orchestrator
	cache  verdict.VerificationCache
}

func newApp(ctx context.Context) (*app, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}

	tokens := tokenStore()
	gw := gateway.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout.Std(), cfg.Backend.BulkTimeout.Std(), tokens, logger)
	sess := session.New()
	vc := cache.New(ctx, cfg.Cache, db, logger)

	orch := verdict.New(gw, sess, verdict.Options{
		Credentials:  tokens,
		Cache:        vc,
		Ledger:       db,
		History:      db,
		HistoryLimit: cfg.Backend.HistoryLimit,
		Timeout:      cfg.Backend.RequestTimeout.Std(),
		Logger:       logger,
	})
	coord := analysis.New(gw, sess, analysis.Options{
		Profiles:        analysis.ProfilesFromConfig(cfg.Progress),
		CompletionDelay: cfg.Progress.CompletionDelay.Std(),
		Credentials:     tokens,
		After:           orch,
		Journal:         db,
		Logger:          logger,
	})

	return &app{db: db, tokens: tokens, gw: gw, sess: sess, coord: coord, orch: orch, cache: vc}, nil
}

// Close waits for outstanding side effects before closing the journal.
func (a *app) Close() error {
	a.orch.Wait()
	if c, ok := a.cache.(io.Closer); ok {
		c.Close()
	}
	return a.db.Close()
}

// progressBar draws the simulated progress on a terminal.
type progressBar struct {
	mu     sync.Mutex
	w      io.Writer
	shown  bool
	lastAt int
}

func attachProgress(sess *session.Session, w *os.File) *progressBar {
	pb := &progressBar{w: w}
	if !isTerminal(w) {
		return pb
	}
	sess.OnChange(pb.update)
	return pb
}

func (pb *progressBar) update(st session.State) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if st.Phase != session.PhaseScanning {
		pb.clearLocked()
		return
	}
	if pb.shown && st.Progress == pb.lastAt {
		return
	}
	const width = 30
	filled := st.Progress * width / 100
	fmt.Fprintf(pb.w, "\rAnalyzing %-5s [%s%s] %3d%%", st.Mode,
		strings.Repeat("=", filled), strings.Repeat(" ", width-filled), st.Progress)
	pb.shown = true
	pb.lastAt = st.Progress
}

// Clear erases the bar if it is on screen.
func (pb *progressBar) Clear() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.clearLocked()
}

func (pb *progressBar) clearLocked() {
	if !pb.shown {
		return
	}
	fmt.Fprintf(pb.w, "\r%s\r", strings.Repeat(" ", 60))
	pb.shown = false
	pb.lastAt = 0
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// describeError turns coordinator errors into a one-line message.
func describeError(err error) string {
	switch {
	case analysis.IsValidation(err):
		return "Cannot submit: " + err.Error()
	case gateway.IsUnauthorized(err):
		return "The backend rejected your credential. Run 'jobcheck login' again."
	}
	return err.Error()
}
