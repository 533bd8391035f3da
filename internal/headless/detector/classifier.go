// Package detector decides whether a freshly loaded page means the crawl of a
// company must stop: bot walls, explicit opt-out signals, and network failures
// that no retry will fix.
package detector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

var challengeTitles = []string{
	"just a moment",
	"checking your browser",
	"please wait",
}

var cloudflareMarkers = []string{
	"cf-browser-verification",
	"cf_chl_opt",
	"__cf_chl_",
	"/cdn-cgi/challenge-platform",
	"cf-challenge",
	"cf-turnstile",
}

var challengeWording = []string{
	"checking your browser",
	"verify you are human",
	"verifying you are human",
	"enable javascript and cookies",
	"review the security of your connection",
	"ddos protection by cloudflare",
	"attention required",
}

var captchaWords = []string{"verify", "human", "robot"}

const captchaWidgetSelector = `form[action*="captcha"], iframe[src*="captcha"], iframe[src*="turnstile"], ` +
	`div.g-recaptcha, div.h-captcha, [class*="captcha"], [id*="captcha"]`

// Classifier implements crawler.PageClassifier with a first-match decision table.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns a SkipDecision when the page must abort the crawl, or nil.
// A panic inside the rules is treated as "do not skip".
func (c *Classifier) Classify(page crawler.Page) (decision *crawler.SkipDecision) {
	defer func() {
		if r := recover(); r != nil {
			decision = nil
		}
	}()

	switch page.StatusCode {
	case 403:
		return crawler.NewSkip(crawler.SkipHTTP403, "HTTP 403 from %s", page.SourceURL())
	case 429:
		return crawler.NewSkip(crawler.SkipHTTP429, "HTTP 429 from %s", page.SourceURL())
	}

	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	title := page.Title
	if title == "" && docErr == nil {
		title = doc.Find("title").First().Text()
	}
	if marker, ok := containsAny(strings.ToLower(title), challengeTitles); ok {
		return crawler.NewSkip(crawler.SkipCaptcha, "challenge title %q", marker)
	}

	lowerHTML := strings.ToLower(page.HTML)
	if marker, ok := containsAny(lowerHTML, cloudflareMarkers); ok {
		if _, worded := containsAny(lowerHTML, challengeWording); worded {
			return crawler.NewSkip(crawler.SkipCaptcha, "cloudflare challenge marker %q", marker)
		}
	}

	if docErr != nil {
		return c.headerDecision(page)
	}

	text := page.Text
	if text == "" {
		text = doc.Find("body").Text()
	}
	lowerText := strings.ToLower(text)
	if strings.Contains(lowerText, "captcha") {
		if _, ok := containsAny(lowerText, captchaWords); ok && doc.Find(captchaWidgetSelector).Length() > 0 {
			return crawler.NewSkip(crawler.SkipCaptcha, "captcha form on %s", page.SourceURL())
		}
	}

	if content, ok := metaRobots(doc); ok && blocksIndexAndFollow(content) {
		return crawler.NewSkip(crawler.SkipMetaRobots, "meta robots %q", content)
	}
	return c.headerDecision(page)
}

func (c *Classifier) headerDecision(page crawler.Page) *crawler.SkipDecision {
	if page.Headers == nil {
		return nil
	}
	values := page.Headers.Values("X-Robots-Tag")
	if len(values) == 0 {
		return nil
	}
	joined := strings.Join(values, ", ")
	if blocksIndexAndFollow(joined) {
		return crawler.NewSkip(crawler.SkipXRobotsTag, "X-Robots-Tag %q", joined)
	}
	return nil
}

func metaRobots(doc *goquery.Document) (string, bool) {
	var content string
	found := false
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "robots") {
			return true
		}
		content, _ = s.Attr("content")
		found = true
		return false
	})
	return content, found
}

func blocksIndexAndFollow(directives string) bool {
	lower := strings.ToLower(directives)
	if strings.Contains(lower, "none") {
		return true
	}
	return strings.Contains(lower, "noindex") && strings.Contains(lower, "nofollow")
}

func containsAny(haystack string, needles []string) (string, bool) {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return needle, true
		}
	}
	return "", false
}
