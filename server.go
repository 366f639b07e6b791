package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxProxyBodyBytes caps the JSON connection-string payload.
const maxProxyBodyBytes = 64 << 10

// cloneFunc runs one complete clone for a parsed descriptor.
type cloneFunc func(ctx context.Context, desc ConnectionDescriptor, basePath, identifier string) (*ClonedDatabase, error)

type server struct {
	cfg    *ProxyConfig
	logger *slog.Logger
	clone  cloneFunc
}

func newServer(cfg *ProxyConfig, logger *slog.Logger) *server {
	s := &server{cfg: cfg, logger: logger}
	s.clone = s.cloneFromSource
	return s
}

// cloneFromSource connects to the live source and clones it.
func (s *server) cloneFromSource(ctx context.Context, desc ConnectionDescriptor, basePath, identifier string) (*ClonedDatabase, error) {
	cloner, err := NewSchemaCloner(ctx, desc, s.cfg.clonerOptions(s.logger))
	if err != nil {
		return nil, err
	}
	defer cloner.Close()
	return cloner.Clone(ctx, basePath, identifier)
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.StripSlashes)
	r.Use(s.logRequests)
	r.Use(metricsMiddleware)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": versionString()})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/proxy", s.handleProxy)
	r.Post("/upload", s.handleUpload)
	r.Get("/dbs", s.handleListDatabases)
	r.Get("/dbs/{id}/schema", s.handleDescribeDatabase)
	return r
}

// handleProxy accepts a JSON string body holding a connection string and
// responds with the identifier of the new clone as a JSON string.
// An optional ?id= supplies the identifier instead of generating one.
func (s *server) handleProxy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBodyBytes))
	if err != nil {
		writeError(w, statusForError(err), fmt.Sprintf("read request body: %v", err))
		return
	}
	// json.Unmarshal rejects trailing data after the string.
	var raw string
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON string")
		return
	}

	desc, err := ParseConnectionString(raw)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	ctx := r.Context()
	if s.cfg.CloneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CloneTimeout)
		defer cancel()
	}

	cloned, err := s.clone(ctx, desc, s.cfg.BasePath, r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cloned.Identifier)
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		status := http.StatusBadRequest
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, fmt.Sprintf("multipart field \"file\" required: %v", err))
		return
	}
	defer file.Close()

	saved, err := saveUpload(s.cfg.BasePath, header.Filename, file)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	s.logger.Info("stored upload", slog.String("identifier", saved.Identifier), slog.String("path", saved.StoragePath))
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Successfully uploaded " + header.Filename,
		"identifier": saved.Identifier,
	})
}

func (s *server) handleListDatabases(w http.ResponseWriter, _ *http.Request) {
	ids, err := listClones(s.cfg.BasePath)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

type columnResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type tableResponse struct {
	Name    string           `json:"name"`
	Columns []columnResponse `json:"columns"`
}

type schemaResponse struct {
	Identifier string          `json:"identifier"`
	Tables     []tableResponse `json:"tables"`
}

func (s *server) handleDescribeDatabase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exists, err := cloneExists(s.cfg.BasePath, id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Sprintf("database %q not found", id))
		return
	}

	tables, err := describeSQLiteDatabase(r.Context(), storagePath(s.cfg.BasePath, id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := schemaResponse{Identifier: id, Tables: make([]tableResponse, 0, len(tables))}
	for _, t := range tables {
		tr := tableResponse{Name: t.Name, Columns: make([]columnResponse, 0, len(t.Columns))}
		for _, c := range t.Columns {
			tr.Columns = append(tr.Columns, columnResponse{Name: c.Name, Type: c.DeclaredType})
		}
		resp.Tables = append(resp.Tables, tr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusForError maps the error taxonomy onto HTTP status codes: 4xx for
// caller mistakes, 504 for an expired deadline at any step, other 5xx for
// source and destination failures.
func statusForError(err error) int {
	var (
		invalidConn *InvalidConnectionStringError
		invalidID   *InvalidIdentifierError
		conflict    *DestinationConflictError
		sourceErr   *SourceConnectionError
		maxBytes    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &invalidConn), errors.As(err, &invalidID), errors.Is(err, errNotSQLite):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &sourceErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http_request",
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.Int("bytes", ww.BytesWritten()),
		)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		status := strconv.Itoa(code)
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// serve runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func (s *server) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", slog.String("addr", s.cfg.ListenAddr), slog.String("base_path", s.cfg.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
