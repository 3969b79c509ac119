package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/chatcrawler/internal/logger"
	"github.com/jmylchreest/chatcrawler/pkg/session"
)

// DefaultAutomatedWait bounds the dynamic content wait for the automated backend.
const DefaultAutomatedWait = 10 * time.Second

// AutomatedBackend drives headless Chrome through chromedp.
// The browser process starts on first use, so an unused backend costs nothing.
type AutomatedBackend struct {
	config Config

	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc

	mu       sync.Mutex
	started  bool
	restored bool
	closed   bool
}

// NewAutomated creates an automated backend. No browser is launched yet.
func NewAutomated(cfg Config) (*AutomatedBackend, error) {
	cfg = cfg.withDefaults(DefaultAutomatedWait)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)

	logger.Debug("automated backend created",
		"headless", cfg.Headless,
		"wait_selector", cfg.WaitSelector,
		"wait_timeout", cfg.WaitTimeout)

	return &AutomatedBackend{
		config:        cfg,
		allocCtx:      allocCtx,
		cancelAlloc:   cancelAlloc,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
	}, nil
}

// allocatorOptions builds the Chrome launch flags.
func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if path := FindChromePath(); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	return opts
}

// start launches the browser and restores stored cookies once.
func (b *AutomatedBackend) start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("automated backend is closed")
	}
	if b.started {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	// The first Run allocates the browser and binds its lifetime to the
	// context given, so it must be the long-lived browser context.
	if err := chromedp.Run(b.browserCtx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	b.started = true

	runCtx, cancel := b.opContext(ctx, b.config.Timeout)
	defer cancel()

	s, ok := b.config.Sessions.Load(string(Automated))
	if !ok {
		return nil
	}
	var cookies []*network.Cookie
	if err := json.Unmarshal(s.Data, &cookies); err != nil {
		logger.Warn("automated session undecodable, ignoring", "error", err)
		return nil
	}
	if len(cookies) == 0 {
		return nil
	}
	if err := chromedp.Run(runCtx, network.SetCookies(cookieParams(cookies))); err != nil {
		logger.Warn("failed to restore automated session cookies", "error", err)
		return nil
	}
	b.restored = true
	logger.Info("automated session cookies loaded", "cookies", len(cookies))
	return nil
}

// opContext derives a bounded browser context that also ends when ctx does.
func (b *AutomatedBackend) opContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(b.browserCtx, d)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Login fills and submits the login form unless a session was restored.
// Missing form elements are warnings; the run continues.
func (b *AutomatedBackend) Login(ctx context.Context) (LoginReport, error) {
	creds := b.config.Credentials
	if !creds.LoginConfigured() {
		logger.Info("no valid login URL provided, skipping login")
		return LoginReport{Status: LoginSkippedNoURL}, nil
	}
	if err := b.start(ctx); err != nil {
		return LoginReport{}, err
	}
	if b.restored {
		logger.Info("automated login skipped, stored session exists")
		return LoginReport{Status: LoginSkippedSession}, nil
	}

	report := LoginReport{Status: LoginPerformed}

	navCtx, cancel := b.opContext(ctx, b.config.Timeout)
	err := chromedp.Run(navCtx, chromedp.Navigate(creds.LoginURL))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Warnings = append(report.Warnings, fmt.Errorf("login page navigation: %w", err))
		logger.Warn("login page navigation failed", "url", creds.LoginURL, "error", err)
	}

	for _, field := range []struct{ name, value string }{
		{creds.UsernameField, creds.Username},
		{creds.PasswordField, creds.Password},
	} {
		if err := b.fill(ctx, field.name, field.value); err != nil {
			report.Warnings = append(report.Warnings, err)
			logger.Warn("login field not filled", "field", field.name, "error", err)
		}
	}

	clickCtx, cancel := b.opContext(ctx, b.config.ElementTimeout)
	err = chromedp.Run(clickCtx, chromedp.Click(b.config.SubmitSelector, chromedp.ByQuery))
	cancel()
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Errorf("login button: %w", err))
		logger.Warn("login button not found or click failed", "selector", b.config.SubmitSelector, "error", err)
	}

	select {
	case <-ctx.Done():
		return report, ctx.Err()
	case <-time.After(b.config.LoginSettle):
	}

	if err := b.saveSession(ctx); err != nil {
		report.Warnings = append(report.Warnings, err)
		logger.Warn("failed to save automated session", "error", err)
	} else {
		logger.Info("automated login submitted, session stored", "warnings", len(report.Warnings))
	}
	return report, nil
}

// fill replaces the value of input[name=field].
func (b *AutomatedBackend) fill(ctx context.Context, field, value string) error {
	sel := fieldSelector(field)
	fillCtx, cancel := b.opContext(ctx, b.config.ElementTimeout)
	defer cancel()
	if err := chromedp.Run(fillCtx,
		chromedp.WaitReady(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	return nil
}

// saveSession stores the browser's cookies.
func (b *AutomatedBackend) saveSession(ctx context.Context) error {
	var cookies []*network.Cookie
	opCtx, cancel := b.opContext(ctx, b.config.Timeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	return b.config.Sessions.Save(string(Automated), session.Session{Data: data, SavedAt: time.Now()})
}

// Fetch navigates to url, waits for the content marker and captures the DOM.
// A marker timeout is a warning on the returned Document.
func (b *AutomatedBackend) Fetch(ctx context.Context, targetURL string) (Document, error) {
	if err := b.start(ctx); err != nil {
		return Document{}, err
	}
	logger.Debug("automated fetch starting", "url", targetURL)

	navCtx, cancel := b.opContext(ctx, b.config.Timeout)
	err := chromedp.Run(navCtx, chromedp.Navigate(targetURL))
	cancel()
	if err != nil {
		return Document{}, fmt.Errorf("browser navigation failed: %w", err)
	}

	var warnings []error
	if sel := b.config.WaitSelector; sel != "" {
		waitCtx, cancel := b.opContext(ctx, b.config.WaitTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(sel, chromedp.ByQuery))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return Document{}, ctx.Err()
			}
			warnings = append(warnings, fmt.Errorf("%w: %s after %s", ErrFetchTimeout, sel, b.config.WaitTimeout))
			logger.Warn("timeout waiting for dynamic content", "selector", sel, "timeout", b.config.WaitTimeout)
		}
	}

	var html string
	htmlCtx, cancel := b.opContext(ctx, b.config.Timeout)
	err = chromedp.Run(htmlCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	cancel()
	if err != nil {
		return Document{}, fmt.Errorf("failed to capture page: %w", err)
	}

	// chromedp does not expose the navigation status code.
	doc := newDocument(targetURL, html, 200)
	doc.Warnings = warnings
	logger.Debug("automated fetch complete", "url", targetURL, "html_size", len(html), "fingerprint", doc.Fingerprint)
	return doc, nil
}

// Close shuts down the browser. Safe to call repeatedly.
func (b *AutomatedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancelBrowser()
	b.cancelAlloc()
	return nil
}

// Kind returns Automated.
func (b *AutomatedBackend) Kind() Kind {
	return Automated
}

// fieldSelector matches a form input by name.
func fieldSelector(name string) string {
	return fmt.Sprintf("input[name=%q]", name)
}

// cookieParams converts captured cookies into the form SetCookies accepts.
// Session cookies carry no expiry.
func cookieParams(cookies []*network.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			t := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			p.Expires = &t
		}
		params = append(params, p)
	}
	return params
}
