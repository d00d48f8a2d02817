// Package progress drives the simulated progress bar shown while the
// backend classifies a submission. The backend reports no real progress,
// so the value creeps toward Cap on a ticker and only jumps to Done when
// the caller signals completion.
package progress

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	// Cap is the highest value reachable without a completion signal.
	Cap = 95
	// Done is reported exactly once, on success.
	Done = 100
)

// Profile is the tick period and the largest random increment per tick.
type Profile struct {
	Period  time.Duration
	MaxStep int
}

// ReportFunc receives every new progress value.
type ReportFunc func(value int)

// Simulator ticks progress forward in its own goroutine. The zero value is
// not usable; create one with New.
type Simulator struct {
	profile Profile
	report  ReportFunc
	step    func(max int) int

	mu     sync.Mutex
	value  int
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped simulator. step returns an increment in [1, max];
// nil uses math/rand.
func New(profile Profile, report ReportFunc, step func(max int) int) *Simulator {
	if profile.Period <= 0 {
		profile.Period = 150 * time.Millisecond
	}
	if profile.MaxStep < 1 {
		profile.MaxStep = 1
	}
	if step == nil {
		step = func(max int) int { return 1 + rand.IntN(max) }
	}
	if report == nil {
		report = func(int) {}
	}
	return &Simulator{profile: profile, report: report, step: step}
}

// Start resets progress to 0 and begins ticking. Any previous run of this
// simulator is stopped first. The ticker ends when ctx is cancelled, or on
// Stop or Finish.
func (s *Simulator) Start(ctx context.Context) {
	s.halt()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.value = 0
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.report(0)
	go s.run(ctx, done)
}

func (s *Simulator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.profile.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			next := min(s.value+s.clampStep(), Cap)
			changed := next != s.value
			s.value = next
			s.mu.Unlock()
			if changed {
				s.report(next)
			}
		}
	}
}

func (s *Simulator) clampStep() int {
	n := s.step(s.profile.MaxStep)
	if n < 1 {
		return 1
	}
	if n > s.profile.MaxStep {
		return s.profile.MaxStep
	}
	return n
}

// Finish stops ticking and forces progress to Done.
func (s *Simulator) Finish() {
	s.halt()
	s.mu.Lock()
	s.value = Done
	s.mu.Unlock()
	s.report(Done)
}

// Stop stops ticking and resets progress to 0.
func (s *Simulator) Stop() {
	s.halt()
	s.mu.Lock()
	s.value = 0
	s.mu.Unlock()
	s.report(0)
}

// Value returns the current progress.
func (s *Simulator) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// halt cancels the ticker goroutine and waits for it to exit, so no tick
// can be reported after it returns.
func (s *Simulator) halt() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
