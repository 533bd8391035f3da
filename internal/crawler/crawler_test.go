package crawler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeWebsite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		skipped bool
	}{
		{name: "adds https", raw: "Example.com", want: "https://example.com/"},
		{name: "keeps http", raw: "http://example.com:80/about#team", want: "http://example.com/about"},
		{name: "protocol relative", raw: "//example.com", want: "https://example.com/"},
		{name: "rejects ftp", raw: "ftp://example.com", skipped: true},
		{name: "rejects mailto", raw: "mailto://info@example.com", skipped: true},
		{name: "rejects empty", raw: "  ", skipped: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u, err := NormalizeWebsite(tt.raw)
			if tt.skipped {
				skip, ok := AsSkip(err)
				require.True(t, ok)
				require.Equal(t, SkipInvalidURL, skip.Code)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, u.String())
		})
	}
}

func TestSameOrSubdomain(t *testing.T) {
	t.Parallel()

	require.True(t, SameOrSubdomain("example.com", "www.example.com"))
	require.True(t, SameOrSubdomain("mail.example.com", "example.com"))
	require.False(t, SameOrSubdomain("example.com.evil.io", "example.com"))
	require.False(t, SameOrSubdomain("notexample.com", "example.com"))
	require.False(t, SameOrSubdomain("", "example.com"))
	require.Equal(t, "example.com", EmailDomain("Info@Example.COM"))
}

func TestSkipDecisionUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")
	skip := &SkipDecision{Code: SkipDNSError, Reason: "dns lookup failed", Cause: cause}
	wrapped := fmt.Errorf("crawl homepage: %w", skip)

	got, ok := AsSkip(wrapped)
	require.True(t, ok)
	require.Equal(t, SkipDNSError, got.Code)
	require.ErrorIs(t, wrapped, cause)

	_, ok = AsSkip(errors.New("boom"))
	require.False(t, ok)

	for _, code := range AllSkipCodes {
		require.True(t, code.Valid(), code)
	}
	require.False(t, SkipCode("SOMETHING_ELSE").Valid())
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialBackoff(10*time.Second, time.Minute)
	p.Jitter = false
	require.Equal(t, 10*time.Second, p.Delay(0))
	require.Equal(t, 10*time.Second, p.Delay(1))
	require.Equal(t, 20*time.Second, p.Delay(2))
	require.Equal(t, 40*time.Second, p.Delay(3))
	require.Equal(t, time.Minute, p.Delay(10))
	require.Equal(t, time.Minute, p.Delay(5000))

	p.Jitter = true
	for i := 0; i < 20; i++ {
		d := p.Delay(2)
		require.GreaterOrEqual(t, d, 10*time.Second)
		require.LessOrEqual(t, d, 20*time.Second)
	}
	require.True(t, JobStatusDone.Terminal())
	require.False(t, JobStatusPending.Terminal())
}
