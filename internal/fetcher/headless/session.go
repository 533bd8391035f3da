package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

const bodyTextJS = `document.body ? document.body.innerText : ""`

// Session is one isolated browsing context inside the shared browser.
type Session struct {
	engine *Engine
	ctx    context.Context
	cancel context.CancelFunc
	meta   *responseMeta
	once   sync.Once
}

var _ crawler.BrowserSession = (*Session)(nil)

// Open navigates to rawURL, waits for DOMContentLoaded only and snapshots the page.
func (s *Session) Open(ctx context.Context, rawURL string) (crawler.Page, error) {
	taskCtx, cancel := context.WithTimeout(s.ctx, s.engine.cfg.NavigationTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	s.meta.reset()
	var title, finalURL, html, text string
	actions := []chromedp.Action{
		s.engine.networkSetupAction(),
		navigateDOMContent(rawURL),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(bodyTextJS, &text),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctxErr := taskCtx.Err(); ctxErr != nil && ctx.Err() == nil {
			return crawler.Page{}, &crawler.NavigationError{URL: rawURL, Err: ctxErr}
		}
		return crawler.Page{}, &crawler.NavigationError{URL: rawURL, Err: err}
	}

	status, headers, responseURL := s.meta.snapshotWithFallbacks(rawURL, finalURL)
	if finalURL == "" {
		finalURL = responseURL
	}
	return crawler.Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: status,
		Headers:    headers,
		Title:      title,
		HTML:       html,
		Text:       text,
	}, nil
}

// Close releases the browser context and the engine reference. It is idempotent.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.engine.release()
	})
	return nil
}

func (e *Engine) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		headers := cloneHeader(e.cfg.Headers)
		if headers == nil {
			headers = http.Header{}
		}
		if e.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(e.cfg.UserAgent)
			if e.cfg.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(e.cfg.AcceptLanguage)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		} else if e.cfg.AcceptLanguage != "" {
			headers.Set("Accept-Language", e.cfg.AcceptLanguage)
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// navigateDOMContent returns as soon as DOMContentLoaded fires instead of
// waiting for the full load event.
func navigateDOMContent(rawURL string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		domReady := make(chan struct{})
		var fired sync.Once
		listenCtx, stopListening := context.WithCancel(ctx)
		defer stopListening()
		chromedp.ListenTarget(listenCtx, func(ev any) {
			if _, ok := ev.(*page.EventDomContentEventFired); ok {
				fired.Do(func() { close(domReady) })
			}
		})

		navCtx, cancelNav := context.WithCancel(ctx)
		defer cancelNav()
		navErr := make(chan error, 1)
		go func() {
			navErr <- chromedp.Navigate(rawURL).Do(navCtx)
		}()

		select {
		case err := <-navErr:
			return err
		case <-domReady:
			select {
			case err := <-navErr:
				return err
			default:
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
