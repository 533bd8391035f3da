package engine

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

var imprintPatterns = []string{
	"/impressum",
	"/imprint",
	"/legal",
	"/datenschutz",
	"/privacy",
	"/agb",
	"/terms",
	"/rechtliches",
}

var contactPatterns = []string{
	"/kontakt",
	"/contact",
	"/anfrage",
	"/get-in-touch",
	"/reach-us",
}

// candidateLinks are the follow-up pages chosen from the homepage.
type candidateLinks struct {
	Imprint string
	Contact string
}

// discoverCandidates inspects up to maxLinks anchors of the page and picks the
// first same-domain imprint link and the first same-domain contact link.
func discoverCandidates(html string, base *url.URL, maxLinks int) candidateLinks {
	var found candidateLinks
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil || base == nil {
		return found
	}
	inspected := 0
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if maxLinks > 0 && inspected >= maxLinks {
			return false
		}
		inspected++
		href, _ := a.Attr("href")
		target, ok := resolveSameDomain(base, href)
		if !ok {
			return true
		}
		path := strings.ToLower(target.Path)
		switch {
		case found.Imprint == "" && matchesAny(path, imprintPatterns):
			found.Imprint = target.String()
		case found.Contact == "" && matchesAny(path, contactPatterns):
			found.Contact = target.String()
		}
		return found.Imprint == "" || found.Contact == ""
	})
	return found
}

func resolveSameDomain(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	target := base.ResolveReference(ref)
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, false
	}
	if !crawler.SameOrSubdomain(target.Hostname(), base.Hostname()) {
		return nil, false
	}
	target.Fragment = ""
	return target, true
}

func matchesAny(path string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// pages lists the candidates in visit order: imprint first, then contact.
func (c candidateLinks) pages() []candidatePage {
	var out []candidatePage
	if c.Imprint != "" {
		out = append(out, candidatePage{URL: c.Imprint, Type: crawler.PageTypeImprint})
	}
	if c.Contact != "" && c.Contact != c.Imprint {
		out = append(out, candidatePage{URL: c.Contact, Type: crawler.PageTypeContact})
	}
	return out
}

type candidatePage struct {
	URL  string
	Type crawler.PageType
}
