// Package api serves the lead query service and the event log over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/internal/store"
	"github.com/palantir/lead-enrichment-pipeline/internal/util"
)

const defaultMaxBodyBytes = 1 << 20

// Server exposes a store.Store over HTTP.
type Server struct {
	store        store.Store
	logger       *slog.Logger
	maxBodyBytes int64

	corsOrigins map[string]bool
	corsAny     bool

	mu                    sync.RWMutex
	expectedAuthorization string
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithCORS allows browser requests from origins. "*" allows any origin.
func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = make(map[string]bool, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o == "*" {
				s.corsAny = true
				continue
			}
			if o != "" {
				s.corsOrigins[o] = true
			}
		}
	}
}

func New(st store.Store, opts ...Option) *Server {
	s := &Server{
		store:        st,
		logger:       slog.Default(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequireBearerToken makes /api/ routes require "Authorization: Bearer <token>".
// An empty token disables the check.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// Handler returns the routed handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/leads", s.authorized(s.handleListLeads))
	mux.HandleFunc("POST /api/events", s.authorized(s.handleCreateEvent))
	mux.HandleFunc("GET /api/events", s.authorized(s.handleListEvents))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.logRequests(s.cors(mux))
}

type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{Industry: q.Get("industry")}

	var err error
	if f.MinSize, err = optionalInt(q, "min_size"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.MaxSize, err = optionalInt(q, "max_size"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := f.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	leads, err := s.store.Query(r.Context(), f)
	if err != nil {
		s.storeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leads)
}

type createEventRequest struct {
	UserID   *int64        `json:"user_id"`
	Action   *string       `json:"action"`
	Metadata lead.Metadata `json:"metadata"`
}

type createEventResponse struct {
	Status string     `json:"status"`
	Event  lead.Event `json:"event"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return
	}
	if req.UserID == nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Action == nil || strings.TrimSpace(*req.Action) == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	e, err := s.store.AppendEvent(r.Context(), lead.Event{
		UserID:   *req.UserID,
		Action:   strings.TrimSpace(*req.Action),
		Metadata: req.Metadata,
	})
	if err != nil {
		s.storeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createEventResponse{Status: "success", Event: e})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		s.storeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// storeFailure maps store errors to a status and a short detail. The full
// cause only goes to the log.
func (s *Server) storeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var fve *store.FilterValidationError
	if errors.As(err, &fve) {
		writeError(w, http.StatusBadRequest, fve.Error())
		return
	}
	cause := err
	if u := errors.Unwrap(err); u != nil {
		cause = u
	}
	s.logger.Error("store operation failed", "method", r.Method, "path", r.URL.Path, "error", util.RedactSecrets(cause.Error()))

	detail := "database error"
	var pe *store.PersistenceError
	if errors.As(err, &pe) {
		detail += ": " + pe.Error()
	}
	writeError(w, http.StatusInternalServerError, detail)
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		expected := s.expectedAuthorization
		s.mu.RUnlock()
		if expected != "" && r.Header.Get("Authorization") != expected {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || (!s.corsAny && !s.corsOrigins[origin]) {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
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
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", p)
				writeError(rec, http.StatusInternalServerError, "internal error")
			}
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start).Round(time.Microsecond),
			)
		}()
		next.ServeHTTP(rec, r)
	})
}

func optionalInt(q map[string][]string, name string) (*int, error) {
	vals := q[name]
	if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(vals[0]))
	if err != nil {
		return nil, &store.FilterValidationError{Field: name, Reason: "must be an integer"}
	}
	return &n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}
