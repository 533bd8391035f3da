package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

// Confidence scores assigned by the extractors.
const (
	MailtoConfidence     = 100
	ObfuscatedConfidence = 85
	ContactConfidence    = 90
	FooterConfidence     = 75
	HomepageConfidence   = 60
	FreemailConfidence   = 45

	// DefaultMinConfidence is the floor applied to base scores.
	DefaultMinConfidence = 50

	maxEmailLength = 254
	maxLocalLength = 64
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	labelPattern = regexp.MustCompile(`(?i)(?:kontakt|contact|e-?mail(?:-adresse)?|email address|mail)\s*[:：]\s*([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)

	bracketAt  = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*at\s*[\]\)\}]\s*`)
	bracketDot = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*dot\s*[\]\)\}]\s*`)
	spacedDot  = regexp.MustCompile(`(?i)\s+dot\s+`)
)

// DefaultFreemailDomains are consumer mailbox providers.
var DefaultFreemailDomains = []string{
	"gmail.com", "googlemail.com", "yahoo.com", "yahoo.de", "yahoo.co.uk", "ymail.com",
	"outlook.com", "outlook.de", "hotmail.com", "hotmail.de", "live.com", "live.de", "msn.com",
	"gmx.de", "gmx.net", "gmx.at", "gmx.ch", "gmx.com", "web.de", "t-online.de", "freenet.de",
	"arcor.de", "icloud.com", "me.com", "mac.com", "aol.com", "mail.ru", "yandex.ru",
	"protonmail.com", "proton.me", "posteo.de", "mailbox.org",
}

// DefaultPlaceholderLocals are local parts that never belong to a real contact.
var DefaultPlaceholderLocals = []string{
	"test", "example", "user", "username", "email", "e-mail", "name", "yourname", "your.name",
	"your-email", "youremail", "firstname.lastname", "vorname.nachname", "max.mustermann",
	"mustermann", "sample", "someone", "john.doe", "jane.doe",
}

// DefaultPlaceholderDomains are template, tracking and error-reporting hosts.
var DefaultPlaceholderDomains = []string{
	"domain.com", "yourdomain.com", "yoursite.com", "mysite.com", "domain.de", "beispiel.de",
	"*.sentry.io", "*.wixpress.com", "*.sentry-cdn.com",
}

var noReplyPrefixes = []string{"noreply", "no-reply", "donotreply", "do-not-reply", "no_reply"}

// assetTLDs show up when file names like logo@2x.png match the email grammar.
var assetTLDs = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "svg": {}, "webp": {}, "avif": {},
	"css": {}, "js": {}, "ico": {}, "bmp": {}, "tiff": {}, "woff": {}, "woff2": {},
}

var footerSelectors = []string{
	"footer",
	"[role=contentinfo]",
	".footer",
	"#footer",
	"[class*=footer]",
	"[id*=footer]",
}

// Config tunes an Extractor. Zero values fall back to the package defaults.
type Config struct {
	MinConfidence      int
	FreemailDomains    []string
	PlaceholderLocals  []string
	PlaceholderDomains []string
}

// Extractor scores email candidates. It is immutable and safe for concurrent use.
type Extractor struct {
	minConfidence      int
	freemail           domainList
	placeholderDomains domainList
	placeholderLocals  map[string]struct{}
}

// New builds an Extractor from cfg.
func New(cfg Config) *Extractor {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if len(cfg.FreemailDomains) == 0 {
		cfg.FreemailDomains = DefaultFreemailDomains
	}
	if len(cfg.PlaceholderLocals) == 0 {
		cfg.PlaceholderLocals = DefaultPlaceholderLocals
	}
	if len(cfg.PlaceholderDomains) == 0 {
		cfg.PlaceholderDomains = DefaultPlaceholderDomains
	}
	locals := make(map[string]struct{}, len(cfg.PlaceholderLocals))
	for _, l := range cfg.PlaceholderLocals {
		locals[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return &Extractor{
		minConfidence:      cfg.MinConfidence,
		freemail:           newDomainList(cfg.FreemailDomains),
		placeholderDomains: newDomainList(cfg.PlaceholderDomains),
		placeholderLocals:  locals,
	}
}

// FromMailto returns addresses from mailto: links in document order, each scored 100.
func (e *Extractor) FromMailto(html, sourceURL string, limit int) []crawler.EmailMatch {
	doc, err := parseHTML(html)
	if err != nil {
		return nil
	}
	return e.mailtoFromSelection(doc.Selection, sourceURL, limit)
}

func (e *Extractor) mailtoFromSelection(sel *goquery.Selection, sourceURL string, limit int) []crawler.EmailMatch {
	var out []crawler.EmailMatch
	seen := make(map[string]struct{})
	sel.Find("a[href], area[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		for _, addr := range mailtoAddresses(href) {
			email, ok := e.accept(addr)
			if !ok {
				continue
			}
			if _, dup := seen[email]; dup {
				continue
			}
			seen[email] = struct{}{}
			out = append(out, crawler.EmailMatch{Email: email, SourceURL: sourceURL, Confidence: MailtoConfidence})
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	})
	return out
}

// FromPlainText regex-matches addresses in text and scores them by page type.
func (e *Extractor) FromPlainText(text, sourceURL string, pageType crawler.PageType, limit int) []crawler.EmailMatch {
	confidence, ok := e.baseScore(pageType)
	if !ok {
		return nil
	}
	var out []crawler.EmailMatch
	seen := make(map[string]struct{})
	for _, raw := range emailPattern.FindAllString(text, -1) {
		email, ok := e.accept(raw)
		if !ok {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, crawler.EmailMatch{Email: email, SourceURL: sourceURL, Confidence: e.adjust(confidence, email)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// FromObfuscatedText rewrites "[at]", "(at)", "[dot]", "(dot)" and " dot " and
// returns the addresses that only exist after rewriting, scored 85.
func (e *Extractor) FromObfuscatedText(text, sourceURL string) []crawler.EmailMatch {
	plain := make(map[string]struct{})
	for _, raw := range emailPattern.FindAllString(text, -1) {
		if email, ok := normalizeAddress(raw); ok {
			plain[email] = struct{}{}
		}
	}
	var out []crawler.EmailMatch
	seen := make(map[string]struct{})
	for _, raw := range emailPattern.FindAllString(deobfuscate(text), -1) {
		email, ok := e.accept(raw)
		if !ok {
			continue
		}
		if _, literal := plain[email]; literal {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, crawler.EmailMatch{Email: email, SourceURL: sourceURL, Confidence: e.adjust(ObfuscatedConfidence, email)})
	}
	return out
}

// FromFooter runs mailto, text and obfuscated extraction over the footer-like
// region of the document. A document without such a region yields nothing.
func (e *Extractor) FromFooter(html, sourceURL string) []crawler.EmailMatch {
	doc, err := parseHTML(html)
	if err != nil {
		return nil
	}
	region := footerRegion(doc)
	if region == nil {
		return nil
	}
	text := visibleText(region)
	return Dedupe(
		e.mailtoFromSelection(region, sourceURL, 0),
		e.FromPlainText(text, sourceURL, crawler.PageTypeFooter, 0),
		e.FromObfuscatedText(text, sourceURL),
	)
}

// WithLabels finds addresses right after contact labels such as "Kontakt:" or
// "E-Mail:". Scoring matches FromPlainText.
func (e *Extractor) WithLabels(text, sourceURL string, pageType crawler.PageType) []crawler.EmailMatch {
	confidence, ok := e.baseScore(pageType)
	if !ok {
		return nil
	}
	var out []crawler.EmailMatch
	seen := make(map[string]struct{})
	for _, groups := range labelPattern.FindAllStringSubmatch(text, -1) {
		email, ok := e.accept(groups[1])
		if !ok {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, crawler.EmailMatch{Email: email, SourceURL: sourceURL, Confidence: e.adjust(confidence, email)})
	}
	return out
}

// ExtractPage runs the full extractor set over one page visit and keeps at most
// limit addresses. When text is empty it is derived from html.
func (e *Extractor) ExtractPage(html, text, sourceURL string, pageType crawler.PageType, limit int) []crawler.EmailMatch {
	if strings.TrimSpace(text) == "" {
		if doc, err := parseHTML(html); err == nil {
			text = visibleText(doc.Selection)
		}
	}
	matches := Dedupe(
		e.FromMailto(html, sourceURL, limit),
		e.FromObfuscatedText(text, sourceURL),
		e.FromPlainText(text, sourceURL, pageType, limit),
		e.WithLabels(text, sourceURL, pageType),
	)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Dedupe merges match lists keeping the first occurrence of each lowercase address.
func Dedupe(lists ...[]crawler.EmailMatch) []crawler.EmailMatch {
	var out []crawler.EmailMatch
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, m := range list {
			key := strings.ToLower(m.Email)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// IsNoReply reports whether the address is an automated sender.
func IsNoReply(email string) bool {
	local := strings.ToLower(email)
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	for _, prefix := range noReplyPrefixes {
		if strings.HasPrefix(local, prefix) {
			return true
		}
	}
	return false
}

func (e *Extractor) baseScore(pageType crawler.PageType) (int, bool) {
	var base int
	switch pageType {
	case crawler.PageTypeContact, crawler.PageTypeImprint:
		base = ContactConfidence
	case crawler.PageTypeFooter:
		base = FooterConfidence
	default:
		base = HomepageConfidence
	}
	return base, base >= e.minConfidence
}

func (e *Extractor) adjust(confidence int, email string) int {
	if e.freemail.has(crawler.EmailDomain(email)) && confidence > FreemailConfidence {
		return FreemailConfidence
	}
	return confidence
}

// accept validates raw and applies the placeholder blocklist.
func (e *Extractor) accept(raw string) (string, bool) {
	email, ok := normalizeAddress(raw)
	if !ok {
		return "", false
	}
	if IsNoReply(email) {
		return "", false
	}
	at := strings.LastIndexByte(email, '@')
	if _, placeholder := e.placeholderLocals[email[:at]]; placeholder {
		return "", false
	}
	if e.placeholderDomains.has(email[at+1:]) {
		return "", false
	}
	return email, true
}

func mailtoAddresses(href string) []string {
	href = strings.TrimSpace(href)
	if len(href) < len("mailto:") || !strings.EqualFold(href[:len("mailto:")], "mailto:") {
		return nil
	}
	target := href[len("mailto:"):]
	if q := strings.IndexByte(target, '?'); q >= 0 {
		target = target[:q]
	}
	if unescaped, err := url.PathUnescape(target); err == nil {
		target = unescaped
	}
	var out []string
	for _, part := range strings.Split(target, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func deobfuscate(text string) string {
	text = bracketAt.ReplaceAllString(text, "@")
	text = bracketDot.ReplaceAllString(text, ".")
	return spacedDot.ReplaceAllString(text, ".")
}

func footerRegion(doc *goquery.Document) *goquery.Selection {
	for _, selector := range footerSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			return sel.Last()
		}
	}
	return nil
}

func parseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
