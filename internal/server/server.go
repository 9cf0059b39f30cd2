// Package server exposes the deviation watchlist over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/gl-deviation/internal/deviation"
	"github.com/sells-group/gl-deviation/internal/export"
	"github.com/sells-group/gl-deviation/internal/ingest"
	"github.com/sells-group/gl-deviation/internal/pipeline"
	"github.com/sells-group/gl-deviation/internal/store"
	"github.com/sells-group/gl-deviation/internal/tabular"
)

// Options tune the HTTP layer.
type Options struct {
	// RateLimit is requests per second across all clients; 0 disables it.
	RateLimit      float64
	RateBurst      int
	MaxUploadBytes int64
	AllowedOrigins []string
}

// Server serves watchlist reports built by a pipeline.
type Server struct {
	pipe *pipeline.Pipeline
	opts Options
	log  *zap.Logger
}

// New creates a Server.
func New(pipe *pipeline.Pipeline, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	return &Server{pipe: pipe, opts: opts, log: zap.L().Named("server")}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Run-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst)))
		}
		r.Post("/reports", s.createReport)
		r.Get("/config", s.getConfig)
		if s.pipe.CanSave() {
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{id}", s.getRun)
		}
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close() //nolint:errcheck
			return eris.Wrap(err, "server: shutdown")
		}
		return nil
	}
}

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	inFmt, err := inputFormat(r)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err)
		return
	}
	outFmt := export.FormatJSON
	if v := q.Get("output"); v != "" {
		if outFmt, err = export.ParseFormat(v); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	ov, err := parseOverrides(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	source := q.Get("source")
	if source == "" {
		source = "http"
	}
	in := pipeline.Input{
		Source: source,
		Reader: http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes),
		Format: inFmt,
		Options: tabular.Options{
			XLSX:           tabular.XLSXOptions{SheetName: q.Get("sheet")},
			LeadingColumns: []string{ingest.ColumnAccountCode, ingest.ColumnAccountName},
		},
	}

	save := q.Get("save") == "true"
	if save && !s.pipe.CanSave() {
		writeError(w, http.StatusBadRequest, eris.New("run history is not configured"))
		return
	}

	res, err := s.pipe.Run(r.Context(), in, ov, save)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if res.Run != nil {
		w.Header().Set("X-Run-ID", res.Run.ID)
	}
	w.Header().Set("Content-Type", outFmt.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, res.Report, outFmt); err != nil {
		s.log.Error("server: write report", zap.Error(err))
	}
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Config())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Source: q.Get("source")}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	runs, err := s.pipe.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.pipe.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// inputFormat honours ?format= first, then the Content-Type header.
// Anything unrecognised is treated as CSV.
func inputFormat(r *http.Request) (tabular.Format, error) {
	if v := r.URL.Query().Get("format"); v != "" {
		return tabular.ParseFormat(v)
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return tabular.FormatCSV, nil
	}
	if f, err := tabular.ParseFormat(ct); err == nil {
		return f, nil
	}
	if strings.HasPrefix(ct, "text/") {
		return tabular.FormatCSV, nil
	}
	return "", eris.Errorf("unsupported content type %q", ct)
}

func parseOverrides(q map[string][]string) (pipeline.Overrides, error) {
	var ov pipeline.Overrides
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if v := get("include_tier3"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return ov, eris.Errorf("include_tier3: invalid bool %q", v)
		}
		ov.IncludeTier3 = &b
	}
	if v := get("evidence"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return ov, eris.Errorf("evidence: invalid bool %q", v)
		}
		ov.Evidence = &b
	}
	if v := get("max_tier1"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ov, eris.Errorf("max_tier1: invalid integer %q", v)
		}
		ov.MaxTier1 = &n
	}
	for _, v := range q["disable"] {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				ov.Disable = append(ov.Disable, deviation.Kind(k))
			}
		}
	}
	return ov, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid non-negative integer %q", v)
	}
	return n, nil
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case eris.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case eris.Is(err, ingest.ErrEmpty), eris.Is(err, ingest.ErrMissingIdentity), eris.Is(err, ingest.ErrNoMetrics):
		return http.StatusUnprocessableEntity
	case errors.As(err, new(*deviation.ConfigError)), errors.As(err, new(*pipeline.InputError)):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
