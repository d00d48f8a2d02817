// Package session holds the single live analysis session and the only
// legal ways to change it.
//
// Every submission mints a generation number when it enters Scanning, and
// Reset mints another. Writers pass the generation they were started with;
// a write carrying any other generation is dropped, so late ticks, late
// responses and late side effects can never land in a newer session.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/TobiSchelling/jobcheck/internal/bulk"
	"github.com/TobiSchelling/jobcheck/internal/gateway"
)

type Phase int

const (
	PhaseInput Phase = iota
	PhaseScanning
	PhaseVerdict
	PhaseBulkResults
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseScanning:
		return "scanning"
	case PhaseVerdict:
		return "verdict"
	case PhaseBulkResults:
		return "bulk-results"
	default:
		return "unknown"
	}
}

// Mode is the kind of input being analyzed.
type Mode string

const (
	ModeText  Mode = "text"
	ModeURL   Mode = "url"
	ModeCSV   Mode = "csv"
	ModeImage Mode = "image"
)

// ParseMode maps a user-facing name to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModeText, ModeURL, ModeCSV, ModeImage:
		return m, true
	}
	return "", false
}

// Feedback records the one reaction allowed per verdict.
type Feedback struct {
	Kind         gateway.FeedbackKind
	CorrectLabel gateway.Prediction
	At           time.Time
}

// Notice is a user-visible message from a failed side effect.
type Notice struct {
	Source  string
	Message string
	At      time.Time
}

// State is a value copy of the session, safe to read without locking.
type State struct {
	Generation   uint64
	Phase        Phase
	Mode         Mode
	PendingInput string
	PendingFile  *gateway.Upload
	Progress     int
	Result       *gateway.Verdict
	Bulk         *bulk.Report
	Err          error
	Feedback     *Feedback
	Company      *gateway.CompanyVerification
	Flagged      bool
	Annotations  map[string]string
	Notices      []Notice
	// History is owned by the backend and survives Reset.
	History []gateway.HistoryEntry
}

// Session is the single live analysis session.
type Session struct {
	mu       sync.Mutex
	state    State
	listener func(State)
	inFlight atomic.Bool
	now      func() time.Time
}

// New returns a session in the Input phase with text mode selected.
func New() *Session {
	return &Session{
		state: State{Phase: PhaseInput, Mode: ModeText},
		now:   time.Now,
	}
}

// OnChange installs fn to receive a snapshot after every accepted change.
// fn is called without the session lock held.
func (s *Session) OnChange(fn func(State)) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// TryAcquire claims the single-flight guard. It fails while another
// submission is outstanding, regardless of phase.
func (s *Session) TryAcquire() bool {
	return s.inFlight.CompareAndSwap(false, true)
}

// Release frees the single-flight guard.
func (s *Session) Release() {
	s.inFlight.Store(false)
}

// Busy reports whether a submission is outstanding.
func (s *Session) Busy() bool {
	return s.inFlight.Load()
}

// Begin moves Input to Scanning for a new submission and returns its
// generation. Results of the previous submission are dropped.
func (s *Session) Begin(mode Mode, text string, file *gateway.Upload) (uint64, error) {
	var gen uint64
	ok := s.update(func(st *State) bool {
		if st.Phase != PhaseInput {
			return false
		}
		st.Generation++
		gen = st.Generation
		st.Phase = PhaseScanning
		st.Mode = mode
		st.PendingInput = text
		st.PendingFile = file
		st.Progress = 0
		st.clearOutcome()
		return true
	})
	if !ok {
		return 0, ErrNotInput
	}
	return gen, nil
}

// SetProgress updates progress while gen is Scanning.
func (s *Session) SetProgress(gen uint64, value int) bool {
	return s.update(func(st *State) bool {
		if st.Generation != gen || st.Phase != PhaseScanning || st.Progress == value {
			return false
		}
		st.Progress = value
		return true
	})
}

// Succeed moves Scanning to Verdict with v.
func (s *Session) Succeed(gen uint64, v *gateway.Verdict) bool {
	return s.update(func(st *State) bool {
		if st.Generation != gen || st.Phase != PhaseScanning {
			return false
		}
		st.Phase = PhaseVerdict
		st.Progress = 100
		st.Result = v
		return true
	})
}

// SucceedBulk moves Scanning to BulkResults with r.
func (s *Session) SucceedBulk(gen uint64, r *bulk.Report) bool {
	return s.update(func(st *State) bool {
		if st.Generation != gen || st.Phase != PhaseScanning {
			return false
		}
		st.Phase = PhaseBulkResults
		st.Progress = 100
		st.Bulk = r
		return true
	})
}

// Fail moves Scanning back to Input, keeping the pending input so the user
// can retry.
func (s *Session) Fail(gen uint64, err error) bool {
	return s.update(func(st *State) bool {
		if st.Generation != gen || st.Phase != PhaseScanning {
			return false
		}
		st.Phase = PhaseInput
		st.Progress = 0
		st.Err = err
		return true
	})
}

// Reset returns to Input from any phase and clears everything tied to the
// current submission. The generation moves on, so outstanding writers are
// ignored from here on.
func (s *Session) Reset() {
	s.update(func(st *State) bool {
		st.Generation++
		st.Phase = PhaseInput
		st.PendingInput = ""
		st.PendingFile = nil
		st.Progress = 0
		st.clearOutcome()
		return true
	})
}

// SetCompany stores a verification result for the verdict of gen. Later
// writes replace earlier ones.
func (s *Session) SetCompany(gen uint64, cv *gateway.CompanyVerification) bool {
	return s.update(func(st *State) bool {
		if st.Generation != gen || st.Phase != PhaseVerdict {
			return false
		}
		st.Company = cv
		return true
	})
}

// ClaimFeedback records fb for the verdict of gen. Only the first claim per
// verdict succeeds.
func (s *Session) ClaimFeedback(gen uint64, kind gateway.FeedbackKind, correctLabel gateway.Prediction) bool {
	return s.update(func(st *State) bool {
		if st.Generation != gen || st.Phase != PhaseVerdict || st.Feedback != nil {
			return false
		}
		st.Feedback = &Feedback{Kind: kind, CorrectLabel: correctLabel, At: s.now()}
		return true
	})
}

// MarkFlagged records that the verdict of gen was flagged.
func (s *Session) MarkFlagged(gen uint64) bool {
	return s.update(func(st *State) bool {
		if st.Generation != gen || st.Phase != PhaseVerdict || st.Flagged {
			return false
		}
		st.Flagged = true
		return true
	})
}

// Annotate attaches a display annotation to the verdict of gen.
func (s *Session) Annotate(gen uint64, key, value string) bool {
	return s.update(func(st *State) bool {
		if st.Generation != gen || st.Phase != PhaseVerdict {
			return false
		}
		if st.Annotations == nil {
			st.Annotations = make(map[string]string)
		}
		st.Annotations[key] = value
		return true
	})
}

// AddNotice records a side-effect failure for gen. The phase is untouched.
func (s *Session) AddNotice(gen uint64, source, message string) bool {
	return s.update(func(st *State) bool {
		if st.Generation != gen {
			return false
		}
		st.Notices = append(st.Notices, Notice{Source: source, Message: message, At: s.now()})
		return true
	})
}

// SetHistory replaces the displayed history list.
func (s *Session) SetHistory(entries []gateway.HistoryEntry) {
	s.update(func(st *State) bool {
		st.History = entries
		return true
	})
}

// update applies fn under the lock and notifies the listener if fn
// accepted the change.
func (s *Session) update(fn func(st *State) bool) bool {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	snap := s.state.clone()
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener(snap)
	}
	return true
}

func (st *State) clearOutcome() {
	st.Result = nil
	st.Bulk = nil
	st.Err = nil
	st.Feedback = nil
	st.Company = nil
	st.Flagged = false
	st.Annotations = nil
	st.Notices = nil
}

func (st State) clone() State {
	if st.Annotations != nil {
		m := make(map[string]string, len(st.Annotations))
		for k, v := range st.Annotations {
			m[k] = v
		}
		st.Annotations = m
	}
	if st.Notices != nil {
		st.Notices = append([]Notice(nil), st.Notices...)
	}
	if st.History != nil {
		st.History = append([]gateway.HistoryEntry(nil), st.History...)
	}
	return st
}
