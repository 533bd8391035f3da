package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

const site = "https://example.com/"

func TestFromMailto(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	html := `<html><body>
		<a href="mailto:Info@Example.com?subject=Hi">Mail</a>
		<a href="MAILTO:sales@example.com,support@example.com">Sales</a>
		<a href="mailto:info@example.com">dup</a>
		<a href="mailto:noreply@example.com">robot</a>
		<a href="mailto:me@gmail.com">private</a>
		<a href="/kontakt">Kontakt</a>
	</body></html>`

	got := e.FromMailto(html, site, 0)
	require.Equal(t, []crawler.EmailMatch{
		{Email: "info@example.com", SourceURL: site, Confidence: 100},
		{Email: "sales@example.com", SourceURL: site, Confidence: 100},
		{Email: "support@example.com", SourceURL: site, Confidence: 100},
		{Email: "me@gmail.com", SourceURL: site, Confidence: 100},
	}, got)

	limited := e.FromMailto(html, site, 2)
	require.Len(t, limited, 2)
	require.Equal(t, "sales@example.com", limited[1].Email)

	require.Equal(t, got, e.FromMailto(html, site, 0), "re-extraction is deterministic")
}

func TestFromPlainTextScoring(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	text := "Write to office@acme.de or Chef.Privat@gmail.com. Test: test@acme.de, logo@2x.png"

	tests := []struct {
		pageType crawler.PageType
		want     int
	}{
		{crawler.PageTypeContact, 90},
		{crawler.PageTypeImprint, 90},
		{crawler.PageTypeHomepage, 60},
		{crawler.PageTypeFooter, 75},
	}
	for _, tt := range tests {
		got := e.FromPlainText(text, site, tt.pageType, 0)
		require.Len(t, got, 2, tt.pageType)
		require.Equal(t, "office@acme.de", got[0].Email)
		require.Equal(t, tt.want, got[0].Confidence, tt.pageType)
		require.Equal(t, "chef.privat@gmail.com", got[1].Email)
		require.Equal(t, FreemailConfidence, got[1].Confidence, "freemail never above 45")
	}

	require.Len(t, e.FromPlainText(text, site, crawler.PageTypeContact, 1), 1)
}

func TestConfidenceFloor(t *testing.T) {
	t.Parallel()

	e := New(Config{MinConfidence: 70})
	require.Empty(t, e.FromPlainText("office@acme.de", site, crawler.PageTypeHomepage, 0))
	require.Len(t, e.FromPlainText("office@acme.de", site, crawler.PageTypeFooter, 0), 1)
}

func TestFromObfuscatedText(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	text := "Contact: info [at] example [dot] com; sales(at)example(dot)com; " +
		"press at example dot org; jobs{at}example.com and plain@example.com"

	got := e.FromObfuscatedText(text, site)
	emails := make([]string, 0, len(got))
	for _, m := range got {
		require.Equal(t, ObfuscatedConfidence, m.Confidence)
		emails = append(emails, m.Email)
	}
	require.Equal(t, []string{"info@example.com", "sales@example.com", "jobs@example.com"}, emails)

	free := e.FromObfuscatedText("private [at] gmx [dot] de", site)
	require.Len(t, free, 1)
	require.Equal(t, FreemailConfidence, free[0].Confidence)
}

func TestFromFooter(t *testing.T) {
	t.Parallel()

	e := New(Config{})

	t.Run("footer tag", func(t *testing.T) {
		html := `<html><body><p>office@example.com</p><footer>Contact: info [at] example [dot] com</footer></body></html>`
		got := e.FromFooter(html, site)
		require.Equal(t, []crawler.EmailMatch{{Email: "info@example.com", SourceURL: site, Confidence: 85}}, got)
	})

	t.Run("contentinfo role and mailto", func(t *testing.T) {
		html := `<div role="contentinfo"><a href="mailto:hello@example.com">hello</a> billing@example.com</div>`
		got := e.FromFooter(html, site)
		require.Equal(t, []crawler.EmailMatch{
			{Email: "hello@example.com", SourceURL: site, Confidence: 100},
			{Email: "billing@example.com", SourceURL: site, Confidence: 75},
		}, got)
	})

	t.Run("class heuristic", func(t *testing.T) {
		html := `<div class="site-footer__inner"><p>Mail</p><p>team@example.com</p></div>`
		got := e.FromFooter(html, site)
		require.Len(t, got, 1)
		require.Equal(t, "team@example.com", got[0].Email)
	})

	t.Run("no footer", func(t *testing.T) {
		require.Empty(t, e.FromFooter(`<main>info@example.com</main>`, site))
	})
}

func TestWithLabels(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	text := "Kontakt: buero@firma.de\nE-Mail: buchhaltung@firma.de\nFax: 0123\nweitere: x@firma.de"
	got := e.WithLabels(text, site, crawler.PageTypeImprint)
	require.Equal(t, []crawler.EmailMatch{
		{Email: "buero@firma.de", SourceURL: site, Confidence: 90},
		{Email: "buchhaltung@firma.de", SourceURL: site, Confidence: 90},
	}, got)
}

func TestExtractPageOrderAndLimit(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	html := `<html><body><a href="mailto:legal@example.com">legal@example.com</a>
		<p>office [at] example [dot] com</p><p>E-Mail: press@example.com</p></body></html>`
	got := e.ExtractPage(html, "", site, crawler.PageTypeImprint, 10)
	require.Equal(t, []crawler.EmailMatch{
		{Email: "legal@example.com", SourceURL: site, Confidence: 100},
		{Email: "office@example.com", SourceURL: site, Confidence: 85},
		{Email: "press@example.com", SourceURL: site, Confidence: 90},
	}, got)

	var many strings.Builder
	for i := 0; i < 15; i++ {
		many.WriteString(" person")
		many.WriteByte(byte('a' + i))
		many.WriteString("@example.com")
	}
	require.Len(t, e.ExtractPage("", many.String(), site, crawler.PageTypeContact, 10), 10)
}

func TestValid(t *testing.T) {
	t.Parallel()

	valid := []string{"info@example.com", "first.last+tag@sub.example.co.uk", "(a_b@example.de)."}
	for _, v := range valid {
		require.True(t, Valid(v), v)
	}
	invalid := []string{
		"", "plain", "a@b", "a@@example.com", ".a@example.com", "a..b@example.com",
		"a@-example.com", "a@example.c0m", "icon@2x.webp", strings.Repeat("a", 65) + "@example.com",
		"a@" + strings.Repeat("b", 250) + ".com",
	}
	for _, v := range invalid {
		require.False(t, Valid(v), v)
	}
}

func TestLocalPartCharset(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	got := e.FromPlainText("first_last@shop.de, sales%eu@shop.de; a-b+c@shop.de", site, crawler.PageTypeContact, 0)
	emails := make([]string, 0, len(got))
	for _, m := range got {
		emails = append(emails, m.Email)
	}
	require.Equal(t, []string{"first_last@shop.de", "sales%eu@shop.de", "a-b+c@shop.de"}, emails)

	for _, v := range []string{"a_b@shop.de", "a%b@shop.de", "a+b@shop.de", "a-b@shop.de"} {
		require.True(t, Valid(v), v)
	}
	for _, v := range []string{"a#b@shop.de", "a!b@shop.de", "a/b@shop.de"} {
		require.False(t, Valid(v), v)
	}
}

func TestBlocklist(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	text := "noreply@shop.de no-reply@shop.de test@shop.de example@shop.de user@shop.de " +
		"abc@o123.ingest.sentry.io info@yourdomain.com real@shop.de"
	got := e.FromPlainText(text, site, crawler.PageTypeContact, 0)
	require.Len(t, got, 1)
	require.Equal(t, "real@shop.de", got[0].Email)
	require.True(t, IsNoReply("No-Reply@shop.de"))
	require.False(t, IsNoReply("reply@shop.de"))
}

func TestDedupeFirstWins(t *testing.T) {
	t.Parallel()

	a := []crawler.EmailMatch{{Email: "Info@Example.com", SourceURL: "a", Confidence: 60}}
	b := []crawler.EmailMatch{{Email: "info@example.com", SourceURL: "b", Confidence: 100}, {Email: "x@example.com", SourceURL: "b", Confidence: 90}}
	got := Dedupe(a, b)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].SourceURL)
	require.Equal(t, 60, got[0].Confidence)
}

func TestOutputInvariants(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	html := `<footer><a href="mailto:team@example.com">x</a> hi (at) gmail (dot) com</footer>
		<p>Kontakt: office@example.com, noreply@example.com, user@example.com, a@b.png</p>`
	all := Dedupe(
		e.FromFooter(html, site),
		e.ExtractPage(html, "", site, crawler.PageTypeHomepage, 0),
	)
	require.NotEmpty(t, all)
	for _, m := range all {
		require.True(t, Valid(m.Email), m.Email)
		require.LessOrEqual(t, len(m.Email), 254)
		require.GreaterOrEqual(t, m.Confidence, 45)
		require.LessOrEqual(t, m.Confidence, 100)
		require.False(t, IsNoReply(m.Email))
	}
}
