package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/jobcheck/internal/feed"
	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/preview"
	"github.com/TobiSchelling/jobcheck/internal/report"
	"github.com/TobiSchelling/jobcheck/internal/session"
)

var (
	textFile    string
	urlPreview  bool
	csvExport   string
	csvRows     int
	csvOnly     string
	feedbackFor string
	flagReason  string
	historyLoc  bool
	historyMax  int
	feedMax     int
	feedSince   string
	statsAll    bool
	trendDays   int

	// onlyRows narrows batch reports to one prediction when set.
	onlyRows gateway.Prediction
)

func init() {
	textCmd.Flags().StringVarP(&textFile, "file", "f", "", "Read the posting from a file")
	urlCmd.Flags().BoolVar(&urlPreview, "preview", false, "Fetch the page locally and show what it contains first")
	csvCmd.Flags().StringVar(&csvExport, "export", "", "Write the annotated CSV to this path instead of printing a report")
	csvCmd.Flags().IntVar(&csvRows, "rows", 25, "Number of rows to show (0 for all)")
	csvCmd.Flags().StringVar(&csvOnly, "only", "", "List only fake, real or skipped rows")
	feedbackCmd.Flags().StringVar(&feedbackFor, "label", "", "Correct label when disagreeing (fake or real)")
	flagCmd.Flags().StringVar(&flagReason, "reason", "", "Why the posting is a scam")
	historyCmd.Flags().BoolVar(&historyLoc, "local", false, "Show the locally cached copy without contacting the backend")
	historyCmd.Flags().IntVarP(&historyMax, "limit", "n", 0, "Number of entries (default from config)")
	statsCmd.Flags().BoolVar(&statsAll, "all", false, "Show the summary across all users")
	trendingCmd.Flags().IntVar(&trendDays, "days", 30, "Look back this many days (at most 90)")
	feedCmd.Flags().IntVar(&feedMax, "max", feed.DefaultMax, "Maximum postings to analyze")
	feedCmd.Flags().StringVar(&feedSince, "since", "", "Only postings newer than this duration (e.g. 48h)")

	rootCmd.AddCommand(textCmd)
	rootCmd.AddCommand(urlCmd)
	rootCmd.AddCommand(csvCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(flagCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(trendingCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(shellCmd)
}

var textCmd = &cobra.Command{
	Use:   "text [posting text]",
	Short: "Analyze pasted posting text",
	Long:  "Analyze posting text given as arguments, with --file, or on stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readText(args)
		if err != nil {
			return err
		}
		return submit(cmd.Context(), 0, func(ctx context.Context, a *app) error {
			return a.coord.SubmitText(ctx, text)
		})
	},
}

var urlCmd = &cobra.Command{
	Use:   "url <posting url>",
	Short: "Analyze the posting at a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if urlPreview {
			p, err := preview.New(cfg.Backend.RequestTimeout.Std(), logger).Fetch(cmd.Context(), args[0])
			if err != nil {
				logger.Warn("Local preview failed", "url", args[0], "error", err)
			} else {
				printPreview(p)
			}
		}
		return submit(cmd.Context(), 0, func(ctx context.Context, a *app) error {
			return a.coord.SubmitURL(ctx, args[0])
		})
	},
}

var csvCmd = &cobra.Command{
	Use:   "csv <file.csv>",
	Short: "Analyze every row of a CSV file (requires login)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if csvOnly != "" {
			p, err := parseOnly(csvOnly)
			if err != nil {
				return err
			}
			onlyRows = p
		}
		file, err := gateway.ReadUpload(args[0])
		if err != nil {
			return err
		}

		if csvExport != "" {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			data, err := a.coord.ExportBulkCSV(cmd.Context(), &file)
			if err != nil {
				return errors.New(describeError(err))
			}
			if err := os.WriteFile(csvExport, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", csvExport, err)
			}
			fmt.Printf("Wrote %s\n", csvExport)
			return nil
		}

		return submit(cmd.Context(), csvRows, func(ctx context.Context, a *app) error {
			return a.coord.SubmitBulkCSV(ctx, &file)
		})
	},
}

var imageCmd = &cobra.Command{
	Use:   "image <screenshot>",
	Short: "Analyze a screenshot of a posting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := gateway.ReadUpload(args[0])
		if err != nil {
			return err
		}
		return submit(cmd.Context(), 0, func(ctx context.Context, a *app) error {
			return a.coord.SubmitImage(ctx, &file)
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <company name>",
	Short: "Check a company name against the registry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		cv, err := a.orch.Verify(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(report.Company(cv))
		return nil
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <prediction id> agree|disagree",
	Short: "Tell the backend whether a verdict was right",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid prediction id %q", args[0])
		}
		kind := gateway.FeedbackKind(strings.ToLower(args[1]))
		var label gateway.Prediction
		switch kind {
		case gateway.FeedbackAgree:
		case gateway.FeedbackDisagree:
			switch {
			case strings.EqualFold(feedbackFor, string(gateway.PredictionFake)):
				label = gateway.PredictionFake
			case strings.EqualFold(feedbackFor, string(gateway.PredictionReal)):
				label = gateway.PredictionReal
			default:
				return errors.New("disagree needs --label fake or --label real")
			}
		default:
			return fmt.Errorf("unknown feedback %q (want agree or disagree)", args[1])
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sent, err := a.orch.FeedbackByID(cmd.Context(), id, kind, label)
		if err != nil {
			return errors.New(describeError(err))
		}
		if !sent {
			fmt.Println("Feedback for this prediction was already sent.")
			return nil
		}
		fmt.Println("Thanks, feedback sent.")
		return nil
	},
}

var flagCmd = &cobra.Command{
	Use:   "flag <prediction id>",
	Short: "Report a fraudulent posting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid prediction id %q", args[0])
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.FlagByID(cmd.Context(), id, flagReason); err != nil {
			return errors.New(describeError(err))
		}
		fmt.Println("Reported. Thank you.")
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show your recent predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		limit := historyMax
		if limit <= 0 {
			limit = cfg.Backend.HistoryLimit
		}

		if historyLoc {
			entries, err := a.db.ListHistory(limit)
			if err != nil {
				return fmt.Errorf("reading cached history: %w", err)
			}
			fmt.Println(report.History(entries))
			return nil
		}

		if !a.tokens.Authenticated() {
			return errors.New("not logged in; run 'jobcheck login' or use --local")
		}
		entries, err := a.orch.RefreshHistory(cmd.Context())
		if err != nil {
			return errors.New(describeError(err))
		}
		if len(entries) > limit {
			entries = entries[:limit]
		}
		fmt.Println(report.History(entries))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show your analysis summary from the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if statsAll {
			gs, err := a.gw.FetchGlobalStats(cmd.Context())
			if err != nil {
				return errors.New(describeError(err))
			}
			fmt.Println(report.GlobalStats(gs))
			return nil
		}

		s, err := a.gw.FetchStats(cmd.Context())
		if err != nil {
			return errors.New(describeError(err))
		}
		fmt.Println(report.Stats(s))
		return nil
	},
}

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "Show scam patterns the backend has seen recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		if trendDays < 1 || trendDays > gateway.MaxTrendingDays {
			return fmt.Errorf("--days must be between 1 and %d", gateway.MaxTrendingDays)
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := a.gw.FetchTrending(cmd.Context(), trendDays)
		if err != nil {
			return errors.New(describeError(err))
		}
		fmt.Println(report.Trending(t))
		return nil
	},
}

var feedCmd = &cobra.Command{
	Use:   "feed <feed url>",
	Short: "Analyze every posting in a job-board RSS/Atom feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if feedSince != "" {
			d, err := time.ParseDuration(feedSince)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			since = time.Now().Add(-d)
		}

		entries, err := feed.Read(cmd.Context(), args[0], feedMax, since)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No postings in feed.")
			return nil
		}
		fmt.Printf("Analyzing %d postings\n\n", len(entries))

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sc := feed.NewScanner(a.coord, logger)
		sc.OnOutcome = func(o feed.Outcome) {
			title := o.Entry.Title
			if title == "" {
				title = o.Entry.URL
			}
			switch {
			case o.Err != nil:
				fmt.Printf("  ERROR %s: %s\n", title, describeError(o.Err))
			case o.Verdict != nil:
				fmt.Printf("  %-5s %3d%%  %s\n", strings.ToUpper(string(o.Verdict.Prediction)), o.Verdict.Confidence, title)
			}
		}
		_, sum := sc.Scan(cmd.Context(), entries)
		fmt.Printf("\n%d fake, %d real, %d failed\n", sum.Fake, sum.Real, sum.Failed)
		return nil
	},
}

// submit runs one submission with a progress bar, waits for the
// post-verdict effects and prints the outcome.
func submit(ctx context.Context, bulkRows int, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pb := attachProgress(a.sess, os.Stderr)
	err = fn(ctx, a)
	pb.Clear()
	if err != nil {
		return errors.New(describeError(err))
	}

	a.orch.Wait()
	fmt.Println(render(a.sess.Snapshot(), bulkRows))
	return nil
}

// render prints the session's current outcome, honoring --only for batches.
func render(st session.State, bulkRows int) string {
	if st.Phase == session.PhaseBulkResults && onlyRows != "" {
		return report.BulkOnly(st.Bulk, onlyRows, bulkRows)
	}
	return report.FromState(st, bulkRows)
}

func parseOnly(s string) (gateway.Prediction, error) {
	for _, p := range []gateway.Prediction{gateway.PredictionFake, gateway.PredictionReal, gateway.PredictionSkipped} {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid --only %q (want fake, real or skipped)", s)
}

func readText(args []string) (string, error) {
	switch {
	case textFile != "":
		data, err := os.ReadFile(textFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", textFile, err)
		}
		return string(data), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	if isTerminal(os.Stdin) {
		fmt.Fprintln(os.Stderr, "Paste the posting, then press Ctrl+D:")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func printPreview(p *preview.Preview) {
	fmt.Println("## Page preview")
	if p.Title != "" {
		fmt.Printf("Title: %s\n", p.Title)
	}
	if p.Company != "" {
		fmt.Printf("Company: %s\n", p.Company)
	}
	fmt.Printf("Readable text: %d characters\n", p.TextSize)
	if p.Excerpt != "" {
		fmt.Printf("\n%s\n", p.Excerpt)
	}
	fmt.Println()
}
