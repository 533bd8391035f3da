package engine

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
	"github.com/JakeFAU/contact-crawler/internal/extract"
	"github.com/JakeFAU/contact-crawler/internal/metrics"
)

// EarlyExitConfidence is the score at which an on-domain address ends the crawl.
const EarlyExitConfidence = 95

// Config holds the crawl budgets.
type Config struct {
	MaxPages         int
	MaxLinksPerPage  int
	MaxDuration      time.Duration
	MaxEmailsPerPage int
	RespectRobots    bool
}

// DefaultConfig returns the production budgets.
func DefaultConfig() Config {
	return Config{
		MaxPages:         4,
		MaxLinksPerPage:  10,
		MaxDuration:      90 * time.Second,
		MaxEmailsPerPage: 10,
		RespectRobots:    true,
	}
}

// Engine implements crawler.Crawler.
type Engine struct {
	cfg        Config
	browser    crawler.Browser
	robots     crawler.RobotsChecker
	limiter    crawler.RateLimiter
	classifier crawler.PageClassifier
	extractor  *extract.Extractor
	clock      crawler.Clock
	logger     *zap.Logger
}

var _ crawler.Crawler = (*Engine)(nil)

// New wires an engine. robots may be nil when robots.txt is bypassed.
func New(
	cfg Config,
	browser crawler.Browser,
	robots crawler.RobotsChecker,
	limiter crawler.RateLimiter,
	classifier crawler.PageClassifier,
	extractor *extract.Extractor,
	clock crawler.Clock,
	logger *zap.Logger,
) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	if cfg.MaxLinksPerPage <= 0 {
		cfg.MaxLinksPerPage = defaults.MaxLinksPerPage
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaults.MaxDuration
	}
	if cfg.MaxEmailsPerPage <= 0 {
		cfg.MaxEmailsPerPage = defaults.MaxEmailsPerPage
	}
	if extractor == nil {
		extractor = extract.New(extract.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		browser:    browser,
		robots:     robots,
		limiter:    limiter,
		classifier: classifier,
		extractor:  extractor,
		clock:      clock,
		logger:     logger,
	}
}

// Crawl visits the homepage plus at most MaxPages-1 imprint/contact pages and
// returns the deduplicated emails. A *crawler.SkipDecision error means the
// site must not be crawled; any other error is transient.
func (e *Engine) Crawl(ctx context.Context, website string) (crawler.CrawlResult, error) {
	start := e.clock.Now()
	site, err := crawler.NormalizeWebsite(website)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	siteURL := site.String()
	logger := e.logger.With(zap.String("url", siteURL))

	if err := e.checkRobots(ctx, siteURL, logger); err != nil {
		return crawler.CrawlResult{}, err
	}

	session, err := e.browser.NewSession(ctx)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("open browsing context: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("close browsing context", zap.Error(cerr))
		}
	}()

	home, err := e.visit(ctx, session, siteURL, crawler.PageTypeHomepage)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	result := crawler.CrawlResult{PagesCrawled: 1}
	emails := capEmails(e.extractor.FromFooter(home.HTML, home.SourceURL()), e.cfg.MaxEmailsPerPage)

	if e.expired(start) {
		logger.Info("crawl deadline reached after homepage")
		return e.finish(result, emails), nil
	}

	base, err := url.Parse(home.SourceURL())
	if err != nil || base.Host == "" {
		base = site
	}
	candidates := discoverCandidates(home.HTML, base, e.cfg.MaxLinksPerPage).pages()
	if limit := e.cfg.MaxPages - 1; len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, candidate := range candidates {
		if hasVerifiedContact(emails, site.Hostname()) {
			logger.Debug("verified on-domain address found, stopping")
			break
		}
		if e.expired(start) {
			logger.Info("crawl deadline reached", zap.Int("pages", result.PagesCrawled))
			break
		}
		page, err := e.visit(ctx, session, candidate.URL, candidate.Type)
		if err != nil {
			if _, ok := crawler.AsSkip(err); ok {
				return crawler.CrawlResult{}, err
			}
			logger.Debug("candidate page failed", zap.String("page", candidate.URL), zap.Error(err))
			continue
		}
		result.PagesCrawled++
		found := e.extractor.ExtractPage(page.HTML, page.Text, page.SourceURL(), candidate.Type, e.cfg.MaxEmailsPerPage)
		emails = append(emails, found...)
	}
	return e.finish(result, emails), nil
}

func (e *Engine) checkRobots(ctx context.Context, siteURL string, logger *zap.Logger) error {
	if !e.cfg.RespectRobots || e.robots == nil {
		return nil
	}
	if err := e.wait(ctx, siteURL); err != nil {
		return err
	}
	disallowed, err := e.robots.RootDisallowed(ctx, siteURL)
	switch {
	case err != nil:
		logger.Info("robots.txt check failed, proceeding", zap.Error(err))
		return nil
	case disallowed:
		return crawler.NewSkip(crawler.SkipRobotsTxt, "robots.txt disallows / for %s", siteURL)
	default:
		return nil
	}
}

// visit navigates one page and runs the skip classifier over it.
func (e *Engine) visit(ctx context.Context, session crawler.BrowserSession, rawURL string, pageType crawler.PageType) (crawler.Page, error) {
	if err := e.wait(ctx, rawURL); err != nil {
		return crawler.Page{}, err
	}
	page, err := session.Open(ctx, rawURL)
	if err != nil {
		if skip := e.classifier.ClassifyError(err); skip != nil {
			metrics.ObservePage(string(pageType), "skipped")
			return crawler.Page{}, skip
		}
		metrics.ObservePage(string(pageType), "error")
		return crawler.Page{}, fmt.Errorf("open %s page: %w", pageType, err)
	}
	if skip := e.classifier.Classify(page); skip != nil {
		metrics.ObservePage(string(pageType), "skipped")
		return crawler.Page{}, skip
	}
	metrics.ObservePage(string(pageType), "ok")
	return page, nil
}

func (e *Engine) wait(ctx context.Context, rawURL string) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("wait for request slot: %w", err)
	}
	return nil
}

func (e *Engine) expired(start time.Time) bool {
	return e.clock.Now().Sub(start) >= e.cfg.MaxDuration
}

func (e *Engine) finish(result crawler.CrawlResult, emails []crawler.EmailMatch) crawler.CrawlResult {
	result.Emails = extract.Dedupe(emails)
	if result.Emails == nil {
		result.Emails = []crawler.EmailMatch{}
	}
	return result
}

// hasVerifiedContact reports whether an address is confident, not automated
// and on the target's own domain.
func hasVerifiedContact(emails []crawler.EmailMatch, host string) bool {
	for _, m := range emails {
		if m.Confidence < EarlyExitConfidence || extract.IsNoReply(m.Email) {
			continue
		}
		if crawler.SameOrSubdomain(crawler.EmailDomain(m.Email), host) {
			return true
		}
	}
	return false
}

func capEmails(emails []crawler.EmailMatch, limit int) []crawler.EmailMatch {
	if limit > 0 && len(emails) > limit {
		return emails[:limit]
	}
	return emails
}
