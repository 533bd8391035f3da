package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
	"github.com/JakeFAU/contact-crawler/internal/metrics"
)

type fakeStore struct {
	pingErr error
	jobs    map[string]crawler.Job
	emails  map[string][]crawler.EmailMatch
	listErr error
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) GetJob(_ context.Context, id string) (crawler.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return job, nil
}

func (s *fakeStore) ListEmails(_ context.Context, companyID string) ([]crawler.EmailMatch, error) {
	return s.emails[companyID], s.listErr
}

func newTestServer(store *fakeStore) *Server {
	metrics.Init()
	return NewServer(store, Options{LookupRoutes: true}, zap.NewNop())
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := serve(t, newTestServer(&fakeStore{}), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		pingErr  error
		draining bool
		want     int
	}{
		{name: "ready", want: http.StatusOK},
		{name: "store down", pingErr: errors.New("conn refused"), want: http.StatusServiceUnavailable},
		{name: "draining", draining: true, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(&fakeStore{pingErr: tt.pingErr})
			s.SetDraining(tt.draining)
			require.Equal(t, tt.want, serve(t, s, "/readyz").Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeStore{})
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestGetJob(t *testing.T) {
	t.Parallel()
	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{jobs: map[string]crawler.Job{
		"job-1": {
			ID: "job-1", CompanyID: "co-1", Status: crawler.JobStatusSkipped,
			SkipReasonCode: crawler.SkipHTTP403, SkipReason: "forbidden", FinishedAt: &finished,
		},
	}}
	s := newTestServer(store)

	rec := serve(t, s, "/v1/jobs/job-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "skipped", body["status"])
	require.Equal(t, "HTTP_403", body["skip_reason_code"])

	require.Equal(t, http.StatusNotFound, serve(t, s, "/v1/jobs/missing").Code)
}

func TestListEmails(t *testing.T) {
	t.Parallel()
	store := &fakeStore{emails: map[string][]crawler.EmailMatch{
		"co-1": {{Email: "legal@example.com", SourceURL: "https://example.com/impressum", Confidence: 100}},
	}}
	s := newTestServer(store)

	rec := serve(t, s, "/v1/companies/co-1/emails")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"confidence_score":100`)

	rec = serve(t, s, "/v1/companies/co-2/emails")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"emails":[]`)

	store.listErr = errors.New("db down")
	require.Equal(t, http.StatusInternalServerError, serve(t, s, "/v1/companies/co-1/emails").Code)
}

func TestLookupRoutesOffByDefault(t *testing.T) {
	t.Parallel()
	metrics.Init()
	store := &fakeStore{
		jobs:   map[string]crawler.Job{"job-1": {ID: "job-1", Status: crawler.JobStatusDone}},
		emails: map[string][]crawler.EmailMatch{"co-1": {{Email: "a@example.com", Confidence: 100}}},
	}
	s := NewServer(store, Options{}, zap.NewNop())

	for _, path := range []string{"/v1/jobs/job-1", "/v1/companies/co-1/emails"} {
		require.Equal(t, http.StatusNotFound, serve(t, s, path).Code, path)
	}
	require.Equal(t, http.StatusOK, serve(t, s, "/healthz").Code)
	require.Equal(t, http.StatusOK, serve(t, s, "/metrics").Code)
}
