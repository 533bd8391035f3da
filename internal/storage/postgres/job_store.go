// Package postgres provides the Postgres-backed job store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// JobStore implements crawler.JobStore and crawler.Enqueuer on Postgres.
type JobStore struct {
	pool pool
}

var (
	_ crawler.JobStore = (*JobStore)(nil)
	_ crawler.Enqueuer = (*JobStore)(nil)
)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const jobColumns = `id, company_id, tenant_id, status, attempts,
	COALESCE(last_error, ''), COALESCE(skip_reason_code, ''), COALESCE(skip_reason, ''),
	COALESCE(lease_owner, ''), lease_expiry, not_before, created_at, started_at, finished_at`

// ClaimNextJob leases the oldest pending job whose not_before has passed, or
// a running job whose lease expired. Concurrent claimers skip locked rows.
func (s *JobStore) ClaimNextJob(ctx context.Context, owner string, lease time.Duration) (*crawler.Job, error) {
	query := `
UPDATE crawl_jobs
SET status = 'running',
	lease_owner = $1,
	lease_expiry = now() + $2 * interval '1 second',
	started_at = now()
WHERE id = (
	SELECT id FROM crawl_jobs
	WHERE (status = 'pending' AND (not_before IS NULL OR not_before <= now()))
	   OR (status = 'running' AND lease_expiry < now())
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns
	job, err := scanJob(s.pool.QueryRow(ctx, query, owner, lease.Seconds()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// GetJob loads one job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, crawler.ErrJobNotFound
		}
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job              crawler.Job
		status, skipCode string
	)
	err := row.Scan(
		&job.ID,
		&job.CompanyID,
		&job.TenantID,
		&status,
		&job.Attempts,
		&job.LastError,
		&skipCode,
		&job.SkipReason,
		&job.LeaseOwner,
		&job.LeaseExpiry,
		&job.NotBefore,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	job.SkipReasonCode = crawler.SkipCode(skipCode)
	return job, nil
}

// UpdateJob applies the non-nil fields of update.
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, update crawler.JobUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Status != nil {
		set("status", string(*update.Status))
	}
	if update.Attempts != nil {
		set("attempts", *update.Attempts)
	}
	if update.LastError != nil {
		set("last_error", *update.LastError)
	}
	if update.SkipReasonCode != nil {
		set("skip_reason_code", string(*update.SkipReasonCode))
	}
	if update.SkipReason != nil {
		set("skip_reason", *update.SkipReason)
	}
	if update.NotBefore != nil {
		set("not_before", *update.NotBefore)
	}
	if update.FinishedAt != nil {
		set("finished_at", *update.FinishedAt)
	}
	if update.ClearLease {
		sets = append(sets, "lease_owner = NULL", "lease_expiry = NULL")
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, jobID)
	where := fmt.Sprintf("id = $%d", len(args))
	if update.LeaseOwner != "" {
		args = append(args, update.LeaseOwner)
		where += fmt.Sprintf(" AND lease_owner = $%d", len(args))
	}
	query := fmt.Sprintf("UPDATE crawl_jobs SET %s WHERE %s", strings.Join(sets, ", "), where)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if update.LeaseOwner == "" {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM crawl_jobs WHERE id = $1)", jobID).Scan(&exists); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if !exists {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return fmt.Errorf("update job %s: %w", jobID, crawler.ErrLeaseLost)
}

// UpsertEmails inserts emails, ignoring rows already stored for the same
// (company_id, email, source_url).
func (s *JobStore) UpsertEmails(ctx context.Context, companyID string, emails []crawler.EmailMatch) error {
	if len(emails) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("INSERT INTO company_emails (company_id, email, source_url, confidence_score) VALUES ")
	args := make([]any, 0, len(emails)*4)
	for i, m := range emails {
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, companyID, m.Email, m.SourceURL, m.Confidence)
	}
	b.WriteString(" ON CONFLICT (company_id, email, source_url) DO NOTHING")
	if _, err := s.pool.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("upsert emails: %w", err)
	}
	return nil
}

// CountEmails returns how many addresses are stored for the company.
func (s *JobStore) CountEmails(ctx context.Context, companyID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM company_emails WHERE company_id = $1`, companyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}

// ListEmails returns the stored addresses for a company, best first.
func (s *JobStore) ListEmails(ctx context.Context, companyID string) ([]crawler.EmailMatch, error) {
	rows, err := s.pool.Query(ctx, `
SELECT email, source_url, confidence_score
FROM company_emails
WHERE company_id = $1
ORDER BY confidence_score DESC, email`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	var out []crawler.EmailMatch
	for rows.Next() {
		var m crawler.EmailMatch
		if err := rows.Scan(&m.Email, &m.SourceURL, &m.Confidence); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emails: %w", err)
	}
	return out, nil
}

// GetCompany loads the company record.
func (s *JobStore) GetCompany(ctx context.Context, companyID string) (crawler.Company, error) {
	var c crawler.Company
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(website, '') FROM companies WHERE id = $1`, companyID,
	).Scan(&c.ID, &c.Name, &c.Website)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Company{}, crawler.ErrCompanyNotFound
		}
		return crawler.Company{}, fmt.Errorf("get company: %w", err)
	}
	return c, nil
}

// Enqueue creates a pending job unless the company already has a pending or
// running job, or a done job finished within dedupWindow. When refused it
// returns the blocking job's id with created=false.
func (s *JobStore) Enqueue(ctx context.Context, companyID, tenantID string, dedupWindow time.Duration) (string, bool, error) {
	var jobID string
	err := s.pool.QueryRow(ctx, `
INSERT INTO crawl_jobs (id, company_id, tenant_id, status, attempts, created_at)
SELECT gen_random_uuid()::text, $1, $2, 'pending', 0, now()
WHERE NOT EXISTS (
	SELECT 1 FROM crawl_jobs
	WHERE company_id = $1
	  AND (status IN ('pending', 'running')
	       OR (status = 'done' AND finished_at > now() - $3 * interval '1 second'))
)
ON CONFLICT DO NOTHING
RETURNING id`, companyID, tenantID, dedupWindow.Seconds()).Scan(&jobID)
	if err == nil {
		return jobID, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("enqueue job: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
SELECT id FROM crawl_jobs
WHERE company_id = $1
ORDER BY created_at DESC
LIMIT 1`, companyID).Scan(&jobID)
	if err != nil {
		return "", false, fmt.Errorf("find existing job: %w", err)
	}
	return jobID, false, nil
}
