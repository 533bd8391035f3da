package crawler

import (
	"errors"
	"fmt"
)

// SkipCode is the machine readable reason a crawl was refused.
type SkipCode string

// The set of skip codes is closed; Valid rejects anything else.
const (
	SkipRobotsTxt         SkipCode = "ROBOTS_TXT"
	SkipHTTP403           SkipCode = "HTTP_403"
	SkipHTTP429           SkipCode = "HTTP_429"
	SkipCaptcha           SkipCode = "CAPTCHA"
	SkipMetaRobots        SkipCode = "META_ROBOTS"
	SkipXRobotsTag        SkipCode = "X_ROBOTS_TAG"
	SkipDNSError          SkipCode = "DNS_ERROR"
	SkipSSLError          SkipCode = "SSL_ERROR"
	SkipTimeout           SkipCode = "TIMEOUT"
	SkipNoWebsite         SkipCode = "NO_WEBSITE"
	SkipShutdown50Percent SkipCode = "SHUTDOWN_50_PERCENT"
	SkipInvalidURL        SkipCode = "INVALID_URL"
)

// AllSkipCodes lists every known code in a stable order.
var AllSkipCodes = []SkipCode{
	SkipRobotsTxt,
	SkipHTTP403,
	SkipHTTP429,
	SkipCaptcha,
	SkipMetaRobots,
	SkipXRobotsTag,
	SkipDNSError,
	SkipSSLError,
	SkipTimeout,
	SkipNoWebsite,
	SkipShutdown50Percent,
	SkipInvalidURL,
}

// Valid reports whether c is one of the known codes.
func (c SkipCode) Valid() bool {
	switch c {
	case SkipRobotsTxt, SkipHTTP403, SkipHTTP429, SkipCaptcha, SkipMetaRobots,
		SkipXRobotsTag, SkipDNSError, SkipSSLError, SkipTimeout, SkipNoWebsite,
		SkipShutdown50Percent, SkipInvalidURL:
		return true
	default:
		return false
	}
}

func (c SkipCode) String() string { return string(c) }

// SkipDecision signals that a crawl must not proceed. It is terminal for the job.
type SkipDecision struct {
	Code   SkipCode
	Reason string
	Cause  error
}

// NewSkip builds a SkipDecision with a formatted reason.
func NewSkip(code SkipCode, format string, args ...any) *SkipDecision {
	return &SkipDecision{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (d *SkipDecision) Error() string {
	if d.Cause != nil {
		return fmt.Sprintf("skip %s: %s: %v", d.Code, d.Reason, d.Cause)
	}
	return fmt.Sprintf("skip %s: %s", d.Code, d.Reason)
}

func (d *SkipDecision) Unwrap() error {
	return d.Cause
}

// AsSkip extracts a SkipDecision from an error chain.
func AsSkip(err error) (*SkipDecision, bool) {
	var skip *SkipDecision
	if errors.As(err, &skip) && skip != nil {
		return skip, true
	}
	return nil, false
}
