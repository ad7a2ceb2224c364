// Package server exposes classifications, analytics and impact assessments
// over HTTP. It never changes pipeline state.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/analytics"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Server is the HTTP server for browsing results.
type Server struct {
	db         *database.DB
	aggregator *analytics.Aggregator
	pages      map[string]*template.Template
	router     chi.Router
}

// New creates a new Server. threshold is the repeat offender threshold
// used for reports; origins are the browser origins allowed by CORS.
func New(db *database.DB, threshold int, origins []string) (*Server, error) {
	funcMap := template.FuncMap{
		"pct": func(f float64) string { return fmt.Sprintf("%.1f%%", 100*f) },
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, eris.Wrap(err, "parsing base template")
	}

	// Each page gets its own clone of base so that "title" and "content"
	// are defined once per page.
	pageNames := []string{"index.html", "document.html", "instance.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, eris.Wrapf(err, "cloning base for %s", name)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, eris.Wrapf(err, "parsing template %s", name)
		}
		pages[name] = clone
	}

	s := &Server{
		db:         db,
		aggregator: analytics.NewAggregator(db, threshold),
		pages:      pages,
		router:     chi.NewRouter(),
	}
	s.routes(origins)
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(origins []string) {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	r.Get("/healthz", s.handleHealth)
	r.Get("/", s.handleIndex)
	r.Get("/documents/{id}", s.handleDocumentPage)
	r.Get("/instances/{id}", s.handleInstancePage)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/report", s.handleReport)
		r.Get("/runs", s.handleRuns)
		r.Get("/documents/{id}", s.handleDocument)
		r.Get("/documents/{id}/impact", s.handleImpact)
		r.Get("/impact", s.handleImpactList)
		r.Get("/instances/{id}", s.handleInstance)
	})
}

// requestLogger logs one line per request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}

// --- JSON API ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(r.Context(), classify.Strings(classify.SentinelCategories))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		Documents:         stats.Documents,
		Edges:             stats.Edges,
		Instances:         stats.Instances,
		FirstClassified:   stats.FirstClassified,
		SecondClassified:  stats.SecondClassified,
		Sentinels:         stats.Sentinels,
		ImpactAssessments: stats.ImpactAssessments,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.aggregator.Build(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.db.RecentStageRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]runView, len(runs))
	for i, run := range runs {
		out[i] = newRunView(run)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	view, err := s.documentView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	a, err := s.db.GetImpactAssessment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "no impact assessment for this document")
		return
	}
	writeJSON(w, http.StatusOK, newImpactView(a))
}

func (s *Server) handleImpactList(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.ListImpactAssessments(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]impactView, len(list))
	for i := range list {
		out[i] = newImpactView(&list[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "instance id must be an integer")
		return
	}
	view, err := s.instanceView(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- HTML pages ---

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	report, err := s.aggregator.Build(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	body, err := analytics.RenderHTML(report)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.render(w, "index.html", map[string]any{
		"Report": report,
		"Body":   template.HTML(body), //nolint: gosec
	})
}

func (s *Server) handleDocumentPage(w http.ResponseWriter, r *http.Request) {
	view, err := s.documentView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.failPage(w, r, err)
		return
	}
	s.render(w, "document.html", view)
}

func (s *Server) handleInstancePage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	view, err := s.instanceView(r.Context(), id)
	if err != nil {
		s.failPage(w, r, err)
		return
	}
	s.render(w, "instance.html", view)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		zap.L().Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		zap.L().Error("rendering template failed", zap.String("template", name), zap.Error(err))
	}
}

// --- views ---

func (s *Server) documentView(ctx context.Context, id string) (*documentView, error) {
	doc, err := s.db.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, database.ErrNotFound
	}
	report, err := s.aggregator.BuildDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	edges, err := s.db.EdgesForDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.AnalyticsRows(ctx, id)
	if err != nil {
		return nil, err
	}
	authoritative := make(map[int64]string, len(rows))
	for _, row := range rows {
		authoritative[row.InstanceID] = string(analytics.Authoritative(row.First, row.Second))
	}

	v := &documentView{
		ID:        doc.ID,
		Title:     doc.Title,
		Year:      doc.Year,
		Report:    report,
		Citations: []citationView{},
	}
	_, v.RepeatOffender = report.IsRepeatOffender(id)
	for _, e := range edges {
		for _, inst := range e.Instances {
			v.Citations = append(v.Citations, citationView{
				InstanceID: inst.ID,
				Target:     e.TargetDocumentID,
				Section:    inst.Section,
				Context:    inst.Context,
				Category:   authoritative[inst.ID],
			})
		}
	}
	if a, err := s.db.GetImpactAssessment(ctx, id); err != nil {
		return nil, err
	} else if a != nil {
		iv := newImpactView(a)
		v.Impact = &iv
	}
	return v, nil
}

func (s *Server) instanceView(ctx context.Context, id int64) (*instanceView, error) {
	inst, err := s.db.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, database.ErrNotFound
	}
	classifications, err := s.db.ClassificationsForInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	v := &instanceView{
		ID:       inst.ID,
		Key:      inst.InstanceKey,
		Source:   inst.SourceDocumentID,
		Target:   inst.TargetDocumentID,
		Section:  inst.Section,
		Context:  inst.Context,
		Sentence: inst.CitingSentence,
		Rounds:   []roundView{},
	}
	for _, c := range classifications {
		evidence, err := s.db.GetEvidence(ctx, id, c.Round)
		if err != nil {
			return nil, err
		}
		v.Rounds = append(v.Rounds, newRoundView(c, evidence))
	}
	return v, nil
}

// --- errors ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encoding response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *Server) failPage(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, database.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// Serve starts the HTTP server on the given port and shuts it down when
// ctx is cancelled.
func Serve(ctx context.Context, db *database.DB, port, threshold int, origins []string) error {
	srv, err := New(db, threshold, origins)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		zap.L().Info("server listening", zap.String("addr", "http://"+httpSrv.Addr))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "serving http")
	case <-ctx.Done():
		zap.L().Info("shutting down server")
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	}
}
