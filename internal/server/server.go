// Package server exposes the tracker, the ingestion orchestrator and the
// stored profiles to the dashboard over JSON HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"socialdash/pkg/auth"
	"socialdash/pkg/config"
	"socialdash/pkg/database"
	errs "socialdash/pkg/errors"
	"socialdash/pkg/imageproxy"
	"socialdash/pkg/logger"
	"socialdash/pkg/models"
)

// UserHeader carries the acting dashboard user
const UserHeader = "X-User-ID"

// Tracker is the part of the job tracker the API drives
type Tracker interface {
	Start(ctx context.Context, username string) (models.ScrapeJob, error)
	Jobs() []models.ScrapeJob
	History() []models.ScrapeJob
}

// Ingester ingests a dataset on demand
type Ingester interface {
	Ingest(ctx context.Context, datasetID string) models.IngestResult
}

// Deps are the components the API serves
type Deps struct {
	Tracker  Tracker
	Ingester Ingester
	Store    database.Store
	Proxy    *imageproxy.Proxy
	// MediaDir, when set, is served under /media/
	MediaDir    string
	DefaultUser string
	Logger      logger.Logger
}

// Server is the HTTP API
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	logger  logger.Logger
	started time.Time
	handler http.Handler
}

// New builds the server and its routes
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.OrNop(deps.Logger).WithField("component", "server"),
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/instagram/scrapes", s.handleStartScrape)
	mux.HandleFunc("GET /api/instagram/scrapes", s.handleListScrapes)
	mux.HandleFunc("POST /api/instagram/datasets/{id}/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/instagram/profiles", s.handleListProfiles)
	mux.HandleFunc("GET /api/instagram/profiles/{id}/posts", s.handleListPosts)
	mux.HandleFunc("DELETE /api/instagram/profiles/{id}", s.handleDeleteProfile)
	mux.HandleFunc("GET /health", s.handleHealth)

	if deps.MediaDir != "" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(deps.MediaDir))))
	}
	if deps.Proxy != nil {
		deps.Proxy.Register(mux, false)
	}

	s.handler = s.logRequests(s.withUser(mux))
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.InfoWithFields("HTTP API listening", map[string]interface{}{"addr": s.cfg.Addr})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			user = s.deps.DefaultUser
		}
		if user != "" {
			r = r.WithContext(auth.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.LogRequest(s.logger, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func (s *Server) handleStartScrape(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimPrefix(strings.TrimSpace(body.Username), "@") == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	job, err := s.deps.Tracker.Start(r.Context(), body.Username)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"job":     job,
	})
}

func (s *Server) handleListScrapes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobs":    nonNilJobs(s.deps.Tracker.Jobs()),
		"history": nonNilJobs(s.deps.Tracker.History()),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	result := s.deps.Ingester.Ingest(r.Context(), r.PathValue("id"))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	profiles, err := s.deps.Store.ListProfiles(r.Context(), user)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"profiles": profiles,
	})
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	profile, err := s.deps.Store.GetProfile(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	posts, err := s.deps.Store.ListPosts(r.Context(), profile.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if posts == nil {
		posts = []models.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"profile": profile,
		"posts":   posts,
	})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteProfile(r.Context(), user, r.PathValue("id")); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"activeJobs": len(s.deps.Tracker.Jobs()),
	}
	if s.deps.Proxy != nil {
		body["cacheSize"] = s.deps.Proxy.CacheSize()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
	}
	return user, ok
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.WithError(err).Error("Request failed")
	}
	writeError(w, status, err.Error())
}

// statusFor maps an error type to the HTTP status reported to the dashboard
func statusFor(err error) int {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeAuth:
		return http.StatusUnauthorized
	case errs.ErrorTypeNotFound:
		return http.StatusNotFound
	case errs.ErrorTypeParsing:
		return http.StatusBadRequest
	case errs.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errs.ErrorTypeConfiguration:
		return http.StatusServiceUnavailable
	case errs.ErrorTypeNetwork, errs.ErrorTypeServerError, errs.ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func nonNilJobs(jobs []models.ScrapeJob) []models.ScrapeJob {
	if jobs == nil {
		return []models.ScrapeJob{}
	}
	return jobs
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
