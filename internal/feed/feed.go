// Package feed reads job-board RSS/Atom feeds and runs each posting
// through a URL analysis, one at a time.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/session"
)

// DefaultMax caps the number of postings taken from one feed.
const DefaultMax = 20

// Entry is one posting link from a feed.
type Entry struct {
	URL       string
	Title     string
	Author    string
	Published time.Time
}

// Read fetches feedURL and returns up to limit postings published at or after
// since. A zero since keeps everything; undated items are always kept.
func Read(ctx context.Context, feedURL string, limit int, since time.Time) ([]Entry, error) {
	parser := gofeed.NewParser()
	parser.UserAgent = "jobcheck/1.0 (feed scan)"
	f, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}
	return entries(f, limit, since), nil
}

// ReadString parses an already downloaded feed document.
func ReadString(doc string, limit int, since time.Time) ([]Entry, error) {
	f, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return entries(f, limit, since), nil
}

func entries(f *gofeed.Feed, limit int, since time.Time) []Entry {
	if limit <= 0 {
		limit = DefaultMax
	}
	seen := make(map[string]struct{})
	var out []Entry
	for _, item := range f.Items {
		if len(out) >= limit {
			break
		}
		e := parseItem(item)
		if e == nil {
			continue
		}
		if _, dup := seen[e.URL]; dup {
			continue
		}
		if !since.IsZero() && !e.Published.IsZero() && e.Published.Before(since) {
			continue
		}
		seen[e.URL] = struct{}{}
		out = append(out, *e)
	}
	return out
}

func parseItem(item *gofeed.Item) *Entry {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		link = strings.TrimSpace(item.GUID)
	}
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return nil
	}

	e := &Entry{URL: link, Title: strings.TrimSpace(item.Title)}
	if item.PublishedParsed != nil {
		e.Published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		e.Published = *item.UpdatedParsed
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		e.Author = strings.TrimSpace(item.Authors[0].Name)
	}
	return e
}

// Submitter is the part of the submission coordinator a scan needs.
type Submitter interface {
	SubmitURL(ctx context.Context, rawURL string) error
	Reset()
	Session() *session.Session
}

// Outcome is the result of analysing one entry.
type Outcome struct {
	Entry   Entry
	Verdict *gateway.Verdict
	Err     error
}

// Summary counts scan outcomes.
type Summary struct {
	Fake, Real, Failed int
}

// Scanner submits feed entries sequentially through a single session.
type Scanner struct {
	sub Submitter
	log *slog.Logger
	// OnOutcome, when set, is called after every entry.
	OnOutcome func(Outcome)
}

func NewScanner(sub Submitter, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{sub: sub, log: logger}
}

// Scan analyses each entry in order, resetting the session before each
// one. It stops early when ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, list []Entry) ([]Outcome, Summary) {
	var outcomes []Outcome
	var sum Summary
	for _, e := range list {
		if ctx.Err() != nil {
			break
		}
		s.sub.Reset()

		o := Outcome{Entry: e}
		if err := s.sub.SubmitURL(ctx, e.URL); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			o.Err = err
			sum.Failed++
			s.log.Warn("Feed entry failed", "url", e.URL, "error", err)
		} else {
			o.Verdict = s.sub.Session().Snapshot().Result
			switch {
			case o.Verdict == nil:
			case o.Verdict.Prediction == gateway.PredictionFake:
				sum.Fake++
			case o.Verdict.Prediction == gateway.PredictionReal:
				sum.Real++
			}
			s.log.Info("Feed entry analysed", "url", e.URL, "prediction", predictionOf(o.Verdict))
		}

		outcomes = append(outcomes, o)
		if s.OnOutcome != nil {
			s.OnOutcome(o)
		}
	}
	return outcomes, sum
}

func predictionOf(v *gateway.Verdict) string {
	if v == nil {
		return ""
	}
	return string(v.Prediction)
}
