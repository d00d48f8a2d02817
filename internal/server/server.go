// Package server serves a read-only local dashboard over the journal:
// recent analyses, batch runs, per-item reports and Prometheus metrics.
package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/jobcheck/internal/database"
	"github.com/TobiSchelling/jobcheck/internal/metrics"
	"github.com/TobiSchelling/jobcheck/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var (
	md     = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy = bluemonday.UGCPolicy()
)

const (
	recentAnalyses = 50
	recentBulkRuns = 20
)

// Server is the HTTP server for the dashboard.
type Server struct {
	db     *database.DB
	pages  map[string]*template.Template
	router chi.Router
	log    *slog.Logger
}

// New creates a new Server.
func New(db *database.DB, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"lower":    strings.ToLower,
		"truncate": truncate,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so their blocks don't collide.
	pageNames := []string{"index.html", "report.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, pages: pages, log: logger}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", s.handleIndex)
	r.Get("/analysis/{id}", s.handleAnalysis)
	r.Get("/bulk/{id}", s.handleBulk)

	s.router = r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	analyses, err := s.db.ListAnalyses(recentAnalyses)
	if err != nil {
		s.serverError(w, "listing analyses", err)
		return
	}
	runs, err := s.db.ListBulkRuns(recentBulkRuns)
	if err != nil {
		s.serverError(w, "listing bulk runs", err)
		return
	}
	stats, err := s.db.GetStats()
	if err != nil {
		s.serverError(w, "reading stats", err)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Analyses": analyses,
		"BulkRuns": runs,
		"Stats":    stats,
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	a, err := s.db.GetAnalysis(id)
	if err != nil {
		s.serverError(w, "reading analysis", err)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "report.html", map[string]any{
		"Title": fmt.Sprintf("Analysis %d", a.ID),
		"Body":  report.Stored(a),
	})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	run, err := s.db.GetBulkRun(id)
	if err != nil {
		s.serverError(w, "reading bulk run", err)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "report.html", map[string]any{
		"Title": fmt.Sprintf("Batch run %d", run.ID),
		"Body":  report.StoredBulk(run),
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("Template not found", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.log.Error("Error rendering template", "template", name, "error", err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, what string, err error) {
	s.log.Error("Dashboard query failed", "query", what, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// renderMarkdown converts markdown to sanitized HTML. Journal entries hold
// scraped third-party text, so the output goes through bluemonday.
func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes())) //nolint: gosec
}

func truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, port int, logger *slog.Logger) error {
	srv, err := New(db, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv.log.Info("Dashboard listening", "url", "http://"+addr)
	return http.ListenAndServe(addr, srv.Handler())
}
