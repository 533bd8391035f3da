// Package memory provides an in-process job store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

type emailKey struct {
	email     string
	sourceURL string
}

// JobStore implements crawler.JobStore and crawler.Enqueuer with lease semantics
// matching the Postgres store.
type JobStore struct {
	mu        sync.Mutex
	clock     crawler.Clock
	ids       crawler.IDGenerator
	jobs      map[string]*crawler.Job
	order     []string
	companies map[string]crawler.Company
	emails    map[string][]crawler.EmailMatch
	seen      map[string]map[emailKey]struct{}
}

var (
	_ crawler.JobStore = (*JobStore)(nil)
	_ crawler.Enqueuer = (*JobStore)(nil)
)

// NewJobStore constructs a JobStore.
func NewJobStore(clock crawler.Clock, ids crawler.IDGenerator) *JobStore {
	return &JobStore{
		clock:     clock,
		ids:       ids,
		jobs:      make(map[string]*crawler.Job),
		companies: make(map[string]crawler.Company),
		emails:    make(map[string][]crawler.EmailMatch),
		seen:      make(map[string]map[emailKey]struct{}),
	}
}

// PutCompany inserts or replaces a company record.
func (s *JobStore) PutCompany(_ context.Context, c crawler.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
	return nil
}

// Ping always succeeds.
func (s *JobStore) Ping(context.Context) error { return nil }

// Enqueue creates a pending job unless one is pending or running for the
// company, or a done job finished within dedupWindow.
func (s *JobStore) Enqueue(_ context.Context, companyID, tenantID string, dedupWindow time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if job.CompanyID != companyID {
			continue
		}
		switch {
		case job.Status == crawler.JobStatusPending, job.Status == crawler.JobStatusRunning:
			return job.ID, false, nil
		case job.Status == crawler.JobStatusDone && job.FinishedAt != nil && now.Sub(*job.FinishedAt) < dedupWindow:
			return job.ID, false, nil
		}
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", false, fmt.Errorf("generate job id: %w", err)
	}
	s.jobs[id] = &crawler.Job{
		ID:        id,
		CompanyID: companyID,
		TenantID:  tenantID,
		Status:    crawler.JobStatusPending,
		CreatedAt: now,
	}
	s.order = append(s.order, id)
	return id, true, nil
}

// ClaimNextJob leases the oldest claimable job to owner.
func (s *JobStore) ClaimNextJob(_ context.Context, owner string, lease time.Duration) (*crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, id := range s.order {
		job := s.jobs[id]
		if !claimable(job, now) {
			continue
		}
		expiry := now.Add(lease)
		started := now
		job.Status = crawler.JobStatusRunning
		job.LeaseOwner = owner
		job.LeaseExpiry = &expiry
		job.StartedAt = &started
		claimed := *job
		return &claimed, nil
	}
	return nil, nil
}

func claimable(job *crawler.Job, now time.Time) bool {
	switch job.Status {
	case crawler.JobStatusPending:
		return job.NotBefore == nil || !job.NotBefore.After(now)
	case crawler.JobStatusRunning:
		return job.LeaseExpiry != nil && job.LeaseExpiry.Before(now)
	default:
		return false
	}
}

// UpdateJob applies the non-nil fields of update.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, update crawler.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if update.LeaseOwner != "" && job.LeaseOwner != update.LeaseOwner {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrLeaseLost)
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Attempts != nil {
		job.Attempts = *update.Attempts
	}
	if update.LastError != nil {
		job.LastError = *update.LastError
	}
	if update.SkipReasonCode != nil {
		job.SkipReasonCode = *update.SkipReasonCode
	}
	if update.SkipReason != nil {
		job.SkipReason = *update.SkipReason
	}
	if update.NotBefore != nil {
		nb := *update.NotBefore
		job.NotBefore = &nb
	}
	if update.FinishedAt != nil {
		fin := *update.FinishedAt
		job.FinishedAt = &fin
	}
	if update.ClearLease {
		job.LeaseOwner = ""
		job.LeaseExpiry = nil
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return *job, nil
}

// UpsertEmails stores emails not already present for the same source URL.
func (s *JobStore) UpsertEmails(_ context.Context, companyID string, emails []crawler.EmailMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.seen[companyID]
	if seen == nil {
		seen = make(map[emailKey]struct{})
		s.seen[companyID] = seen
	}
	for _, m := range emails {
		key := emailKey{email: m.Email, sourceURL: m.SourceURL}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		s.emails[companyID] = append(s.emails[companyID], m)
	}
	return nil
}

// CountEmails returns how many addresses are stored for the company.
func (s *JobStore) CountEmails(_ context.Context, companyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emails[companyID]), nil
}

// ListEmails returns a copy of the stored addresses, best first.
func (s *JobStore) ListEmails(_ context.Context, companyID string) ([]crawler.EmailMatch, error) {
	s.mu.Lock()
	out := append([]crawler.EmailMatch(nil), s.emails[companyID]...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Email < out[j].Email
	})
	return out, nil
}

// GetCompany loads a company record.
func (s *JobStore) GetCompany(_ context.Context, companyID string) (crawler.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return crawler.Company{}, crawler.ErrCompanyNotFound
	}
	return c, nil
}
