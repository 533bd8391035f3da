package detector

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

var dnsMarkers = []string{
	"err_name_not_resolved",
	"err_name_resolution_failed",
	"no such host",
	"enotfound",
	"name or service not known",
	"server misbehaving",
}

var sslMarkers = []string{
	"err_cert_",
	"err_ssl_",
	"err_bad_ssl",
	"x509",
	"tls: ",
	"certificate",
}

var timeoutMarkers = []string{
	"err_timed_out",
	"err_connection_timed_out",
	"deadline exceeded",
	"timed out",
	"timeout",
}

// ClassifyError maps a navigation error to a DNS, SSL or timeout skip.
// Other errors, including cancellation, return nil.
func (c *Classifier) ClassifyError(err error) *crawler.SkipDecision {
	if err == nil {
		return nil
	}
	if skip, ok := crawler.AsSkip(err); ok {
		return skip
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &crawler.SkipDecision{Code: crawler.SkipTimeout, Reason: "navigation timed out", Cause: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return &crawler.SkipDecision{Code: crawler.SkipDNSError, Reason: "dns resolution failed", Cause: err}
	}

	msg := strings.ToLower(causeText(err))
	if _, ok := containsAny(msg, dnsMarkers); ok {
		return &crawler.SkipDecision{Code: crawler.SkipDNSError, Reason: "dns resolution failed", Cause: err}
	}
	if _, ok := containsAny(msg, sslMarkers); ok {
		return &crawler.SkipDecision{Code: crawler.SkipSSLError, Reason: "tls or certificate failure", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &crawler.SkipDecision{Code: crawler.SkipTimeout, Reason: "navigation timed out", Cause: err}
	}
	if _, ok := containsAny(msg, timeoutMarkers); ok {
		return &crawler.SkipDecision{Code: crawler.SkipTimeout, Reason: "navigation timed out", Cause: err}
	}
	return nil
}

// causeText returns the message of the underlying failure. Navigation
// wrappers are skipped so a host or path never reaches the marker match.
func causeText(err error) string {
	var nav *crawler.NavigationError
	if errors.As(err, &nav) && nav.Err != nil {
		return nav.Err.Error()
	}
	return err.Error()
}
