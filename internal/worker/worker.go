// Package worker turns crawl outcomes into job-store state transitions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
	"github.com/JakeFAU/contact-crawler/internal/logging"
	"github.com/JakeFAU/contact-crawler/internal/metrics"
)

// shutdownSkipProgress is the share of the crawl budget after which an
// interrupted job is skipped rather than requeued.
const shutdownSkipProgress = 0.5

// Config controls Worker behavior.
type Config struct {
	MaxAttempts int
	// MaxCrawlDuration is the crawl budget the shutdown progress is measured against.
	MaxCrawlDuration time.Duration
	Backoff          crawler.ExponentialBackoff
	// EnforceBackoff writes not_before on retried jobs. When false the delay is only logged.
	EnforceBackoff bool
	Topic          string
}

// Transition is the resolved outcome of one job run, ready to be persisted.
type Transition struct {
	Status       crawler.JobStatus
	Attempts     int
	SkipCode     crawler.SkipCode
	Reason       string
	RetryIn      time.Duration
	NotBefore    *time.Time
	Emails       []crawler.EmailMatch
	PagesCrawled int
	// Err is the unclassified failure behind a pending or failed transition.
	Err error
}

// Worker is the job lifecycle manager.
type Worker struct {
	store     crawler.JobStore
	crawler   crawler.Crawler
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher may be nil.
func New(
	store crawler.JobStore,
	crawl crawler.Crawler,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.MaxCrawlDuration <= 0 {
		cfg.MaxCrawlDuration = 90 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = crawler.NewExponentialBackoff(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:     store,
		crawler:   crawl,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessJob runs one claimed job to a persisted terminal or requeued state.
func (w *Worker) ProcessJob(ctx context.Context, job crawler.Job) error {
	return w.Commit(ctx, job, w.Process(ctx, job))
}

// Commit applies t. When a success or skip cannot be saved it falls back to
// the retry path so the job does not stay running until its lease expires.
func (w *Worker) Commit(ctx context.Context, job crawler.Job, t Transition) error {
	err := w.Apply(ctx, job, t)
	if err == nil || t.Err != nil {
		return err
	}
	if errors.Is(err, crawler.ErrLeaseLost) {
		logging.ForJob(w.logger, job).Warn("lease lost before outcome was saved", zap.Error(err))
		return err
	}
	logging.ForJob(w.logger, job).Error("persist outcome failed, retrying as failure", zap.Error(err))
	return errors.Join(err, w.Apply(ctx, job, w.failure(job, err)))
}

// Process loads the company, crawls it and maps the outcome onto a
// Transition. It never persists anything.
func (w *Worker) Process(ctx context.Context, job crawler.Job) Transition {
	logger := logging.ForJob(w.logger, job)
	company, err := w.store.GetCompany(ctx, job.CompanyID)
	if err != nil {
		return w.failure(job, fmt.Errorf("load company: %w", err))
	}
	if strings.TrimSpace(company.Website) == "" {
		return Transition{
			Status:   crawler.JobStatusSkipped,
			Attempts: job.Attempts,
			SkipCode: crawler.SkipNoWebsite,
			Reason:   "company has no website",
		}
	}

	logger.Info("crawl started", zap.String("url", company.Website))
	result, err := w.crawl(ctx, company.Website)
	if err != nil {
		if skip, ok := crawler.AsSkip(err); ok {
			return w.skipped(job, skip)
		}
		return w.failure(job, err)
	}
	return Transition{
		Status:       crawler.JobStatusDone,
		Attempts:     job.Attempts,
		Emails:       result.Emails,
		PagesCrawled: result.PagesCrawled,
	}
}

// ShutdownTransition resolves a job still in flight when the shutdown timeout
// expired. elapsed is the time the job has been running.
func (w *Worker) ShutdownTransition(ctx context.Context, job crawler.Job, elapsed time.Duration) Transition {
	count, err := w.store.CountEmails(ctx, job.CompanyID)
	if err != nil {
		logging.ForJob(w.logger, job).Warn("count emails at shutdown", zap.Error(err))
		count = 0
	}
	if count > 0 {
		return Transition{Status: crawler.JobStatusDone, Attempts: job.Attempts}
	}
	progress := elapsed.Seconds() / w.cfg.MaxCrawlDuration.Seconds()
	if progress < shutdownSkipProgress {
		return Transition{
			Status:   crawler.JobStatusPending,
			Attempts: job.Attempts,
			Reason:   fmt.Sprintf("requeued at shutdown after %s", elapsed.Round(time.Second)),
		}
	}
	return Transition{
		Status:   crawler.JobStatusSkipped,
		Attempts: job.Attempts,
		SkipCode: crawler.SkipShutdown50Percent,
		Reason:   fmt.Sprintf("shutdown after %.0f%% of the crawl budget", progress*100),
	}
}

// Apply persists the transition: emails first, then the job row. A
// completion event is published afterwards when a topic is configured.
func (w *Worker) Apply(ctx context.Context, job crawler.Job, t Transition) error {
	logger := logging.ForJob(w.logger, job)
	if len(t.Emails) > 0 {
		if err := w.store.UpsertEmails(ctx, job.CompanyID, t.Emails); err != nil {
			return fmt.Errorf("upsert emails: %w", err)
		}
	}

	status := t.Status
	attempts := t.Attempts
	update := crawler.JobUpdate{
		Status:     &status,
		Attempts:   &attempts,
		ClearLease: true,
		LeaseOwner: job.LeaseOwner,
	}
	now := w.clock.Now()
	switch status {
	case crawler.JobStatusDone:
		update.FinishedAt = &now
	case crawler.JobStatusSkipped:
		code, reason := t.SkipCode, t.Reason
		update.SkipReasonCode = &code
		update.SkipReason = &reason
		update.FinishedAt = &now
	case crawler.JobStatusFailed:
		reason := t.Reason
		update.LastError = &reason
		update.FinishedAt = &now
	case crawler.JobStatusPending:
		reason := t.Reason
		update.LastError = &reason
		update.NotBefore = t.NotBefore
	default:
		return fmt.Errorf("unsupported transition to %q", status)
	}
	if err := w.store.UpdateJob(ctx, job.ID, update); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("emails", len(t.Emails)),
		zap.Int("pages", t.PagesCrawled),
	}
	switch status {
	case crawler.JobStatusSkipped:
		metrics.ObserveSkip(t.SkipCode.String())
		logger.Info("job skipped", append(fields, zap.String("code", t.SkipCode.String()), zap.String("reason", t.Reason))...)
	case crawler.JobStatusPending:
		logger.Warn("job requeued", append(fields, zap.String("reason", t.Reason), zap.Duration("retry_in", t.RetryIn))...)
	case crawler.JobStatusFailed:
		logger.Error("job failed", append(fields, zap.String("reason", t.Reason))...)
	default:
		metrics.ObserveEmailsFound(len(t.Emails))
		logger.Info("job done", fields...)
	}

	w.publishCompletion(ctx, job, t, now)
	return nil
}

// crawl runs the crawler, turning a panic into an unclassified failure.
func (w *Worker) crawl(ctx context.Context, website string) (result crawler.CrawlResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl panicked: %v", r)
		}
	}()
	return w.crawler.Crawl(ctx, website)
}

func (w *Worker) skipped(job crawler.Job, skip *crawler.SkipDecision) Transition {
	switch skip.Code {
	case crawler.SkipRobotsTxt,
		crawler.SkipHTTP403,
		crawler.SkipHTTP429,
		crawler.SkipCaptcha,
		crawler.SkipMetaRobots,
		crawler.SkipXRobotsTag,
		crawler.SkipDNSError,
		crawler.SkipSSLError,
		crawler.SkipTimeout,
		crawler.SkipNoWebsite,
		crawler.SkipShutdown50Percent,
		crawler.SkipInvalidURL:
		return Transition{
			Status:   crawler.JobStatusSkipped,
			Attempts: job.Attempts,
			SkipCode: skip.Code,
			Reason:   skip.Reason,
		}
	default:
		return w.failure(job, fmt.Errorf("unknown skip code %q: %w", skip.Code, skip))
	}
}

// failure applies the retry law: requeue while attempts remain, else fail.
func (w *Worker) failure(job crawler.Job, err error) Transition {
	attempts := job.Attempts + 1
	t := Transition{Attempts: attempts, Reason: err.Error(), Err: err}
	if attempts >= w.cfg.MaxAttempts {
		t.Status = crawler.JobStatusFailed
		return t
	}
	t.Status = crawler.JobStatusPending
	t.RetryIn = w.cfg.Backoff.Delay(attempts)
	if w.cfg.EnforceBackoff {
		notBefore := w.clock.Now().Add(t.RetryIn)
		t.NotBefore = &notBefore
	}
	return t
}

func (w *Worker) publishCompletion(ctx context.Context, job crawler.Job, t Transition, at time.Time) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"event":         "crawl.completed",
		"job_id":        job.ID,
		"company_id":    job.CompanyID,
		"tenant_id":     job.TenantID,
		"status":        string(t.Status),
		"attempts":      t.Attempts,
		"emails_found":  len(t.Emails),
		"pages_crawled": t.PagesCrawled,
		"timestamp":     at.UTC().Format(time.RFC3339),
	}
	if t.Status == crawler.JobStatusSkipped {
		payload["skip_reason_code"] = t.SkipCode.String()
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		logging.ForJob(w.logger, job).Warn("publish completion failed", zap.Error(err))
	}
}
