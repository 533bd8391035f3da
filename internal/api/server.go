package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
	"github.com/JakeFAU/contact-crawler/internal/metrics"
)

// Store is the read side of the job store used by the lookup routes.
type Store interface {
	Ping(ctx context.Context) error
	GetJob(ctx context.Context, jobID string) (crawler.Job, error)
	ListEmails(ctx context.Context, companyID string) ([]crawler.EmailMatch, error)
}

// Server wires HTTP handlers to the job store.
type Server struct {
	router   chi.Router
	store    Store
	logger   *zap.Logger
	draining atomic.Bool
}

// Options selects optional route groups.
type Options struct {
	LookupRoutes bool
}

// NewServer constructs a Server with middleware and routes. The ops routes
// are always mounted; /v1 only when opts.LookupRoutes is set.
func NewServer(store Store, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, logger: logger}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(10 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if opts.LookupRoutes {
		r.Route("/v1", func(r chi.Router) {
			r.Get("/jobs/{job_id}", s.getJob)
			r.Get("/companies/{company_id}/emails", s.listEmails)
		})
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetDraining makes /readyz fail so load balancers stop routing during shutdown.
func (s *Server) SetDraining(draining bool) {
	s.draining.Store(draining)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeError(w, http.StatusServiceUnavailable, "draining")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type jobResponse struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	TenantID       string     `json:"tenant_id"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	SkipReasonCode string     `json:"skip_reason_code,omitempty"`
	SkipReason     string     `json:"skip_reason,omitempty"`
	LeaseExpiry    *time.Time `json:"lease_expiry,omitempty"`
	NotBefore      *time.Time `json:"not_before,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

func toJobResponse(job crawler.Job) jobResponse {
	return jobResponse{
		ID:             job.ID,
		CompanyID:      job.CompanyID,
		TenantID:       job.TenantID,
		Status:         string(job.Status),
		Attempts:       job.Attempts,
		LastError:      job.LastError,
		SkipReasonCode: job.SkipReasonCode.String(),
		SkipReason:     job.SkipReason,
		LeaseExpiry:    job.LeaseExpiry,
		NotBefore:      job.NotBefore,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) listEmails(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "company_id")
	emails, err := s.store.ListEmails(r.Context(), companyID)
	if err != nil {
		s.logger.Error("list emails", zap.String("company_id", companyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list emails")
		return
	}
	if emails == nil {
		emails = []crawler.EmailMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"company_id": companyID, "emails": emails})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
