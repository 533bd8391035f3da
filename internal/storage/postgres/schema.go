package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	website    TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS crawl_jobs (
	id               TEXT PRIMARY KEY,
	company_id       TEXT NOT NULL REFERENCES companies (id) ON DELETE CASCADE,
	tenant_id        TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	attempts         INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT,
	skip_reason_code TEXT,
	skip_reason      TEXT,
	lease_owner      TEXT,
	lease_expiry     TIMESTAMPTZ,
	not_before       TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at       TIMESTAMPTZ,
	finished_at      TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS crawl_jobs_claim_idx ON crawl_jobs (status, created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS crawl_jobs_active_company_idx
	ON crawl_jobs (company_id) WHERE status IN ('pending', 'running')`,
	`CREATE TABLE IF NOT EXISTS company_emails (
	company_id       TEXT NOT NULL REFERENCES companies (id) ON DELETE CASCADE,
	email            TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	confidence_score INTEGER NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, email, source_url)
)`,
}

// Migrate creates the tables and indexes when missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// UpsertCompany inserts or updates a company row.
func (s *JobStore) UpsertCompany(ctx context.Context, tenantID string, c crawler.Company) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO companies (id, tenant_id, name, website)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, website = EXCLUDED.website`,
		c.ID, tenantID, c.Name, c.Website)
	if err != nil {
		return fmt.Errorf("upsert company: %w", err)
	}
	return nil
}
