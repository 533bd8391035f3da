package crawler

import (
	"net/http"
	"time"
)

// JobStatus enumerates crawl job lifecycle states.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a worker holds a lease on the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusDone indicates the crawl finished and its emails were saved.
	JobStatusDone JobStatus = "done"
	// JobStatusFailed indicates the job exhausted its attempts.
	JobStatusFailed JobStatus = "failed"
	// JobStatusSkipped indicates the crawl was refused for a classified reason.
	JobStatusSkipped JobStatus = "skipped"
)

// Terminal reports whether no further transition is expected from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusSkipped:
		return true
	default:
		return false
	}
}

// Job is a leased unit of crawl work for one company.
type Job struct {
	ID             string
	CompanyID      string
	TenantID       string
	Status         JobStatus
	Attempts       int
	LastError      string
	SkipReasonCode SkipCode
	SkipReason     string
	LeaseOwner     string
	LeaseExpiry    *time.Time
	NotBefore      *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// JobUpdate is a partial update applied to a job row. Nil fields are left untouched.
type JobUpdate struct {
	Status         *JobStatus
	Attempts       *int
	LastError      *string
	SkipReasonCode *SkipCode
	SkipReason     *string
	NotBefore      *time.Time
	FinishedAt     *time.Time
	ClearLease     bool
	// LeaseOwner, when set, restricts the update to a job still leased by
	// that worker. A reclaimed job yields ErrLeaseLost.
	LeaseOwner     string
}

// Company is the subset of a company record the crawl core needs.
type Company struct {
	ID      string
	Name    string
	Website string
}

// EmailMatch is a scored address candidate found on a page.
type EmailMatch struct {
	Email      string `json:"email"`
	SourceURL  string `json:"source_url"`
	Confidence int    `json:"confidence_score"`
}

// CrawlResult is the outcome of a successful crawl.
type CrawlResult struct {
	Emails       []EmailMatch `json:"emails"`
	PagesCrawled int          `json:"pages_crawled"`
}

// PageType tells the extractor what kind of page text came from.
type PageType string

const (
	// PageTypeHomepage is the company landing page.
	PageTypeHomepage PageType = "homepage"
	// PageTypeImprint is a legal notice / imprint style page.
	PageTypeImprint PageType = "imprint"
	// PageTypeContact is a contact or enquiry page.
	PageTypeContact PageType = "contact"
	// PageTypeFooter is the footer region of any page.
	PageTypeFooter PageType = "footer"
)

// Page is a loaded document as seen by the browser.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Title      string
	HTML       string
	Text       string
}

// SourceURL returns the URL emails found on the page are attributed to.
func (p Page) SourceURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}
