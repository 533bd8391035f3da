package crawler

import (
	"context"
	"time"
)

// JobStore is the lockable job queue plus the company and email tables.
type JobStore interface {
	// ClaimNextJob atomically leases one claimable job to owner. It returns
	// nil with a nil error when nothing is claimable.
	ClaimNextJob(ctx context.Context, owner string, lease time.Duration) (*Job, error)
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	UpsertEmails(ctx context.Context, companyID string, emails []EmailMatch) error
	CountEmails(ctx context.Context, companyID string) (int, error)
	GetCompany(ctx context.Context, companyID string) (Company, error)
}

// Enqueuer creates jobs, refusing companies crawled inside the dedup window.
type Enqueuer interface {
	Enqueue(ctx context.Context, companyID, tenantID string, dedupWindow time.Duration) (jobID string, created bool, err error)
}

// Browser hands out isolated browsing sessions.
type Browser interface {
	NewSession(ctx context.Context) (BrowserSession, error)
}

// BrowserSession is one isolated browsing context. Close must always be called.
type BrowserSession interface {
	Open(ctx context.Context, url string) (Page, error)
	Close() error
}

// RobotsChecker reports whether robots.txt disallows the site root.
type RobotsChecker interface {
	RootDisallowed(ctx context.Context, siteURL string) (bool, error)
}

// RateLimiter blocks until another outbound request may start.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// PageClassifier decides whether a loaded page aborts the crawl.
type PageClassifier interface {
	Classify(page Page) *SkipDecision
	ClassifyError(err error) *SkipDecision
}

// Crawler produces a CrawlResult for one website.
type Crawler interface {
	Crawl(ctx context.Context, website string) (CrawlResult, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
