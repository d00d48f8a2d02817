package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/jobcheck/internal/analysis"
	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/report"
	"github.com/TobiSchelling/jobcheck/internal/session"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session: submit, react to the verdict, reset",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sh := newShell(a, os.Stdin, os.Stdout)
		if isTerminal(os.Stdin) {
			sh.prompt = "jobcheck> "
			attachProgress(a.sess, os.Stderr)
		}
		return sh.Run(cmd.Context())
	},
}

const shellHelp = `Commands:
  text <posting>          analyze pasted text
  url <link>              analyze a posting URL
  image <path>            analyze a screenshot
  csv <path>              analyze a CSV batch (login required)
  export <path> <out>     write the annotated batch CSV to out
  verify [company]        check a company (defaults to the scraped one)
  agree | disagree        rate the current verdict (also: feedback agree)
  flag [reason]           report the current Fake verdict
  show                    print the current state
  history                 show recent predictions
  reset                   abandon the current analysis
  help                    this text
  quit                    leave`

// shell is the interactive front end over one session. Submissions run in
// the background so reset and show stay usable while scanning.
type shell struct {
	app    *app
	in     io.Reader
	out    io.Writer
	prompt string

	outMu sync.Mutex
	wg    sync.WaitGroup
}

func newShell(a *app, in io.Reader, out io.Writer) *shell {
	return &shell{app: a, in: in, out: out}
}

// Run reads commands until quit, EOF or ctx is done. In-flight work is
// waited for before returning.
func (s *shell) Run(ctx context.Context) error {
	defer s.wg.Wait()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go s.readLines(ctx, lines, readErr)

	s.printf("%s", s.prompt)
	for {
		select {
		case <-ctx.Done():
			s.app.coord.Reset()
			return nil
		case line, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					s.app.coord.Reset()
					return nil
				}
				return <-readErr
			}
			if quit := s.exec(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
			s.printf("%s", s.prompt)
		}
	}
}

// readLines feeds input lines to lines until EOF or ctx is done, then
// closes it. At EOF the scan error, possibly nil, goes to errc.
func (s *shell) readLines(ctx context.Context, lines chan<- string, errc chan<- error) {
	defer close(lines)
	sc := bufio.NewScanner(s.in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
	errc <- sc.Err()
}

func (s *shell) exec(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	name = strings.ToLower(name)
	if mode, ok := session.ParseMode(name); ok {
		s.submit(ctx, mode, rest)
		return false
	}

	switch name {
	case "quit", "exit":
		return true
	case "help", "?":
		s.println(shellHelp)
	case "export":
		s.export(ctx, rest)
	case "verify":
		s.verify(ctx, rest)
	case "agree", "disagree":
		s.feedback(ctx, gateway.FeedbackKind(name))
	case "feedback":
		kind := gateway.FeedbackKind(strings.ToLower(rest))
		if kind != gateway.FeedbackAgree && kind != gateway.FeedbackDisagree {
			s.println("usage: feedback agree|disagree")
			return false
		}
		s.feedback(ctx, kind)
	case "flag":
		if err := s.app.orch.Flag(rest); err != nil {
			s.println(describeError(err))
			return false
		}
		s.println("Reported. Thank you.")
	case "show", "status":
		s.show()
	case "history":
		s.history(ctx)
	case "reset":
		s.app.coord.Reset()
		s.println("Ready for a new posting.")
	default:
		s.printf("Unknown command %q. Type help.\n", name)
	}
	return false
}

// submit starts a submission for mode with arg as text, URL or file path.
func (s *shell) submit(ctx context.Context, mode session.Mode, arg string) {
	var fn func(context.Context) error
	switch mode {
	case session.ModeText:
		fn = func(ctx context.Context) error { return s.app.coord.SubmitText(ctx, arg) }
	case session.ModeURL:
		fn = func(ctx context.Context) error { return s.app.coord.SubmitURL(ctx, arg) }
	case session.ModeImage:
		file, ok := s.upload(arg)
		if !ok {
			return
		}
		fn = func(ctx context.Context) error { return s.app.coord.SubmitImage(ctx, file) }
	case session.ModeCSV:
		file, ok := s.upload(arg)
		if !ok {
			return
		}
		fn = func(ctx context.Context) error { return s.app.coord.SubmitBulkCSV(ctx, file) }
	}
	s.background(ctx, fn)
}

// background starts a submission. The coordinator's single-flight guard
// rejects it if one is already running.
func (s *shell) background(ctx context.Context, fn func(context.Context) error) {
	if s.app.sess.Busy() {
		s.println(describeError(analysis.ErrInFlight))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := fn(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			s.println("\n" + describeError(err))
			return
		}
		s.app.orch.Wait()
		s.println("\n" + render(s.app.sess.Snapshot(), csvRows))
	}()
}

func (s *shell) upload(path string) (*gateway.Upload, bool) {
	if path == "" {
		s.println(describeError(&analysis.ValidationError{Err: analysis.ErrNoFile}))
		return nil, false
	}
	file, err := gateway.ReadUpload(path)
	if err != nil {
		s.println(err.Error())
		return nil, false
	}
	return &file, true
}

func (s *shell) export(ctx context.Context, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		s.println("usage: export <path> <out>")
		return
	}
	file, ok := s.upload(fields[0])
	if !ok {
		return
	}
	data, err := s.app.coord.ExportBulkCSV(ctx, file)
	if err != nil {
		s.println(describeError(err))
		return
	}
	if err := os.WriteFile(fields[1], data, 0o644); err != nil {
		s.printf("writing %s: %v\n", fields[1], err)
		return
	}
	s.printf("Wrote %s\n", fields[1])
}

func (s *shell) verify(ctx context.Context, name string) {
	if name == "" {
		if st := s.app.sess.Snapshot(); st.Result != nil {
			name = st.Result.ScrapedCompany
		}
	}
	cv, err := s.app.orch.VerifyTyped(ctx, name)
	if err != nil {
		s.println(describeError(err))
		return
	}
	s.println(report.Company(cv))
}

func (s *shell) feedback(ctx context.Context, kind gateway.FeedbackKind) {
	var label gateway.Prediction
	if st := s.app.sess.Snapshot(); kind == gateway.FeedbackDisagree && st.Result != nil {
		label = gateway.PredictionFake
		if st.Result.Prediction == gateway.PredictionFake {
			label = gateway.PredictionReal
		}
	}
	sent, err := s.app.orch.SubmitFeedback(ctx, kind, label)
	switch {
	case err != nil:
		s.println(describeError(err))
	case !sent:
		s.println("Feedback for this verdict was already sent.")
	default:
		s.println("Thanks for the feedback.")
	}
}

func (s *shell) show() {
	st := s.app.sess.Snapshot()
	switch st.Phase {
	case session.PhaseInput:
		if st.Err != nil {
			s.println("Last attempt failed: " + st.Err.Error())
			return
		}
		s.println("Waiting for a posting.")
	case session.PhaseScanning:
		s.printf("Analyzing %s: %d%%\n", st.Mode, st.Progress)
	default:
		s.println(render(st, csvRows))
	}
}

func (s *shell) history(ctx context.Context) {
	if s.app.tokens.Authenticated() {
		entries, err := s.app.orch.RefreshHistory(ctx)
		if err == nil {
			s.println(report.History(entries))
			return
		}
		s.println(describeError(err))
	}
	entries, err := s.app.db.ListHistory(cfg.Backend.HistoryLimit)
	if err != nil {
		s.println(err.Error())
		return
	}
	s.println(report.History(entries))
}

func (s *shell) println(msg string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, msg)
}

func (s *shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
