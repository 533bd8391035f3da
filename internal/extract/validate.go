package extract

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/PuerkitoBio/goquery"
)

const edgePunctuation = ".,;:!?)]}>'\"(<[{"

// Valid reports whether raw is an acceptable address after trimming.
func Valid(raw string) bool {
	_, ok := normalizeAddress(raw)
	return ok
}

// normalizeAddress trims surrounding punctuation, lowercases and applies the
// strict grammar: one @, local part up to 64 characters without leading,
// trailing or doubled dots, a dotted hostname with an alphabetic TLD.
func normalizeAddress(raw string) (string, bool) {
	email := strings.ToLower(strings.Trim(strings.TrimSpace(raw), edgePunctuation))
	if email == "" || len(email) > maxEmailLength || strings.Count(email, "@") != 1 {
		return "", false
	}
	at := strings.IndexByte(email, '@')
	local, domain := email[:at], email[at+1:]
	if !validLocal(local) || !validDomain(domain) {
		return "", false
	}
	return email, true
}

func validLocal(local string) bool {
	if local == "" || len(local) > maxLocalLength {
		return false
	}
	if local[0] == '.' || local[len(local)-1] == '.' || strings.Contains(local, "..") {
		return false
	}
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case strings.ContainsRune("._%+-", r):
		default:
			return false
		}
	}
	return true
}

func validDomain(domain string) bool {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	_, asset := assetTLDs[tld]
	return !asset
}

// visibleText joins text nodes with spaces so adjacent blocks never fuse into
// one token, skipping script and style content.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(s)
			}
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}
