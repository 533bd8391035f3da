// Package headless owns the shared headless Chrome instance and hands out
// isolated, per-crawl browsing sessions backed by chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

// ErrEngineClosed is returned by NewSession after Close.
var ErrEngineClosed = errors.New("browser engine closed")

// Config controls the browser process and every session it creates.
type Config struct {
	UserAgent         string
	AcceptLanguage    string
	Headers           http.Header
	NavigationTimeout time.Duration
	Headless          bool
	NoSandbox         bool
	IgnoreCertErrors  bool
	ExecPath          string
}

type (
	launchFunc  func() (browserCtx context.Context, shutdown func(), err error)
	openTabFunc func(browserCtx context.Context, onEvent func(ev any)) (context.Context, context.CancelFunc, error)
)

// Engine is a lazily started, reference-counted Chrome instance. Each open
// Session holds one reference; the process is torn down once the engine is
// closed and the last session has been released.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	launch  launchFunc
	openTab openTabFunc

	mu         sync.Mutex
	refs       int
	closed     bool
	browserCtx context.Context
	shutdown   func()
	drained    chan struct{}
}

var _ crawler.Browser = (*Engine)(nil)

// NewEngine creates an engine. Chrome is not started until the first session.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{cfg: cfg, logger: logger, openTab: openIsolatedTab}
	e.launch = e.launchChrome
	return e
}

// NewSession opens an isolated browser context (its own cookies and cache).
// The caller must Close the session on every exit path.
func (e *Engine) NewSession(ctx context.Context) (crawler.BrowserSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	browserCtx, err := e.acquire()
	if err != nil {
		return nil, err
	}
	meta := newResponseMeta()
	tabCtx, cancel, err := e.openTab(browserCtx, meta.captureEvent)
	if err != nil {
		e.release()
		return nil, err
	}
	return &Session{engine: e, ctx: tabCtx, cancel: cancel, meta: meta}, nil
}

// Refs reports the number of open sessions.
func (e *Engine) Refs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs
}

// Close stops handing out sessions and waits for open ones to be released,
// or for ctx to end, before stopping Chrome.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.refs == 0 {
		e.shutdownLocked()
		e.mu.Unlock()
		return nil
	}
	drained := make(chan struct{})
	e.drained = drained
	open := e.refs
	e.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		e.shutdownLocked()
		e.mu.Unlock()
		return fmt.Errorf("close browser with %d open sessions: %w", open, ctx.Err())
	}
}

func (e *Engine) acquire() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if e.browserCtx != nil && e.browserCtx.Err() != nil {
		e.logger.Warn("browser context ended, relaunching", zap.Int("open_sessions", e.refs))
		e.shutdownLocked()
	}
	if e.browserCtx == nil {
		browserCtx, shutdown, err := e.launch()
		if err != nil {
			return nil, err
		}
		e.browserCtx = browserCtx
		e.shutdown = shutdown
		e.logger.Info("browser started", zap.Bool("headless", e.cfg.Headless))
	}
	e.refs++
	return e.browserCtx, nil
}

func (e *Engine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs > 0 {
		e.refs--
	}
	if e.refs == 0 && e.closed {
		e.shutdownLocked()
		if e.drained != nil {
			close(e.drained)
			e.drained = nil
		}
	}
}

func (e *Engine) shutdownLocked() {
	if e.shutdown != nil {
		e.shutdown()
		e.logger.Info("browser stopped")
	}
	e.shutdown = nil
	e.browserCtx = nil
}

func (e *Engine) launchChrome() (context.Context, func(), error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if e.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if e.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if e.cfg.IgnoreCertErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if e.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(e.cfg.UserAgent))
	}
	if e.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return browserCtx, func() {
		browserCancel()
		allocCancel()
	}, nil
}

// openIsolatedTab allocates the target with the tab context itself so later
// timeouts on individual navigations never close the tab.
func openIsolatedTab(browserCtx context.Context, onEvent func(ev any)) (context.Context, context.CancelFunc, error) {
	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	chromedp.ListenTarget(tabCtx, onEvent)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open browser context: %w", err)
	}
	return tabCtx, cancel, nil
}
