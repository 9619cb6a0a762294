package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"notecal/internal/config"
	appLog "notecal/internal/log"
	"notecal/internal/metrics"
	"notecal/internal/model"
	"notecal/internal/notesync"
)

// feedsCacheTTL bounds how long parsed feeds are reused across requests.
const feedsCacheTTL = 5 * time.Minute

// Pipeline is the part of *notesync.Syncer the API uses.
type Pipeline interface {
	Feeds(ctx context.Context) ([]model.Feed, error)
	Occurrences(feeds []model.Feed, date time.Time) []model.Occurrence
	Block(feeds []model.Feed, date time.Time) string
	Run(ctx context.Context) (notesync.Summary, error)
	Zone() *time.Location
}

// Server exposes read access to resolved events and a sync trigger.
type Server struct {
	cfg      *config.Config
	pipeline Pipeline
	router   chi.Router
	now      func() time.Time

	// In-memory cache of parsed feeds to avoid refetching on every request.
	feedsMu    sync.Mutex
	feedsCache *feedsCache
}

type feedsCache struct {
	feeds     []model.Feed
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, pipeline Pipeline) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		router:   chi.NewRouter(),
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			r.Use(s.basicAuthMiddleware)
		}
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
		r.Get("/api/events", s.handleEvents)
		r.Get("/api/block", s.handleBlock)
		r.Post("/api/sync", s.handleSync)
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="notecal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Date        string          `json:"date"`
	Timezone    string          `json:"timezone"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	SourceID    string    `json:"source_id"`
	Category    string    `json:"category"`
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	URL         string    `json:"url,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handleEvents returns the occurrences of one day.
//
// GET /api/events?date=2024-06-03 (or 06-03-2024); defaults to today in
// the configured zone.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	date, ok := s.requestDate(w, r)
	if !ok {
		return
	}
	feeds := s.feeds(r.Context())

	occs := s.pipeline.Occurrences(feeds, date)
	dtos := make([]occurrenceDTO, 0, len(occs))
	for _, occ := range occs {
		dtos = append(dtos, occurrenceDTO{
			SourceID:    occ.SourceID,
			Category:    string(occ.Category),
			UID:         occ.UID,
			Summary:     occ.Summary,
			Description: occ.Description,
			Location:    occ.Location,
			URL:         occ.URL,
			AllDay:      occ.AllDay,
			Start:       occ.Start,
			End:         occ.End,
		})
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Date:        date.Format("2006-01-02"),
		Timezone:    s.pipeline.Zone().String(),
		Occurrences: dtos,
	})
}

// handleBlock returns the markdown block that a note of that day receives.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	date, ok := s.requestDate(w, r)
	if !ok {
		return
	}
	block := s.pipeline.Block(s.feeds(r.Context()), date)

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(block))
}

// handleSync runs one sync and returns its summary.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	sum, err := s.pipeline.Run(r.Context())
	s.invalidateFeeds()
	if err != nil {
		appLog.Error("api sync failed", err, "run_id", sum.RunID)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) requestDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	loc := s.pipeline.Zone()
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return s.now().In(loc), true
	}
	for _, layout := range []string{"2006-01-02", "01-02-2006"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD or MM-DD-YYYY")
	return time.Time{}, false
}

// feeds returns parsed feeds, refetching when the cache is stale. A failed
// refresh keeps serving whatever could be loaded.
func (s *Server) feeds(ctx context.Context) []model.Feed {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()

	if fc := s.feedsCache; fc != nil && s.now().Sub(fc.updatedAt) < feedsCacheTTL {
		return fc.feeds
	}

	feeds, err := s.pipeline.Feeds(ctx)
	if err != nil {
		appLog.Warn("api: some calendar feeds unavailable", "error", err.Error(), "loaded", len(feeds))
	}
	s.feedsCache = &feedsCache{feeds: feeds, updatedAt: s.now()}
	return feeds
}

func (s *Server) invalidateFeeds() {
	s.feedsMu.Lock()
	s.feedsCache = nil
	s.feedsMu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
