package verdict

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"

	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/session"
)

// Annotation keys written by the default rules.
const (
	AnnotationLanguage  = "language"
	AnnotationSecondary = "secondary-model"
)

// minLanguageText is the shortest text worth running language detection on.
const minLanguageText = 40

// Input is what a rule sees for one verdict.
type Input struct {
	Generation    uint64
	Mode          session.Mode
	Submitted     string
	Verdict       *gateway.Verdict
	Authenticated bool
}

// Rule is one post-verdict side effect.
type Rule struct {
	Name string
	When func(in Input) bool
	Run  func(ctx context.Context, in Input) error
}

// DefaultRules returns the shipped rule list bound to o.
func DefaultRules(o *Orchestrator) []Rule {
	return []Rule{
		{
			Name: "company-verification",
			When: func(in Input) bool { return in.Verdict.ScrapedCompany != "" },
			Run: func(ctx context.Context, in Input) error {
				cv, err := o.Verify(ctx, in.Verdict.ScrapedCompany)
				if err != nil {
					return err
				}
				o.sess.SetCompany(in.Generation, cv)
				return nil
			},
		},
		{
			Name: "history-refresh",
			When: func(in Input) bool { return in.Authenticated },
			Run: func(ctx context.Context, in Input) error {
				_, err := o.RefreshHistory(ctx)
				return err
			},
		},
		{
			Name: "language-badge",
			When: func(in Input) bool {
				return in.Verdict.DetectedLanguage == "" && utf8.RuneCountInString(languageSample(in)) >= minLanguageText
			},
			Run: func(ctx context.Context, in Input) error {
				info := whatlanggo.Detect(languageSample(in))
				if !info.IsReliable() {
					o.log.Debug("Language detection unreliable", "generation", in.Generation, "confidence", info.Confidence)
					return nil
				}
				o.sess.Annotate(in.Generation, AnnotationLanguage, info.Lang.Iso6391())
				return nil
			},
		},
		{
			Name: "secondary-model",
			When: func(in Input) bool { return in.Verdict.ModelB != nil },
			Run: func(ctx context.Context, in Input) error {
				note := SecondaryNote(in.Verdict)
				o.log.Info("Secondary model opinion", "prediction_id", in.Verdict.PredictionID, "note", note)
				o.sess.Annotate(in.Generation, AnnotationSecondary, note)
				return nil
			},
		},
	}
}

// SecondaryNote describes whether the second model agrees with the first.
func SecondaryNote(v *gateway.Verdict) string {
	b := v.ModelB
	if b == nil {
		return ""
	}
	model := b.Model
	if model == "" {
		model = "secondary model"
	}
	verb := "agrees"
	if b.Prediction != v.Prediction {
		verb = "disagrees"
	}
	return fmt.Sprintf("%s %s: %s (%d%%)", model, verb, b.Prediction, b.Confidence)
}

func languageSample(in Input) string {
	if s := strings.TrimSpace(in.Submitted); s != "" {
		return s
	}
	return strings.TrimSpace(in.Verdict.ScrapedPreview)
}
