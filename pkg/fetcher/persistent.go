package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/jmylchreest/chatcrawler/internal/logger"
	"github.com/jmylchreest/chatcrawler/pkg/session"
)

// DefaultPersistentWait bounds the dynamic content wait for the persistent backend.
const DefaultPersistentWait = 5 * time.Second

// StorageState is the persisted browser state: cookies plus per-origin localStorage.
type StorageState struct {
	Cookies []*proto.NetworkCookie `json:"cookies"`
	Origins []OriginStorage        `json:"origins"`
}

// OriginStorage is the localStorage of one origin.
type OriginStorage struct {
	Origin       string            `json:"origin"`
	LocalStorage map[string]string `json:"local_storage"`
}

// decodeStorageState parses a stored snapshot. An empty snapshot is an error.
func decodeStorageState(data []byte) (StorageState, error) {
	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return state, err
	}
	if len(state.Cookies) == 0 && len(state.Origins) == 0 {
		return state, errors.New("empty storage state")
	}
	return state, nil
}

// localStorageScript returns a script restoring each origin's localStorage
// when a document of that origin loads.
func localStorageScript(origins []OriginStorage) (string, error) {
	byOrigin := make(map[string]map[string]string, len(origins))
	for _, o := range origins {
		if o.Origin == "" || len(o.LocalStorage) == 0 {
			continue
		}
		byOrigin[o.Origin] = o.LocalStorage
	}
	if len(byOrigin) == 0 {
		return "", nil
	}
	data, err := json.Marshal(byOrigin)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	const items = %s[location.origin];
	if (!items) return;
	for (const [k, v] of Object.entries(items)) {
		try { localStorage.setItem(k, v); } catch (e) {}
	}
})()`, data), nil
}

// PersistentBackend drives Chrome through rod with a durable user-data dir.
// Login state survives in both the profile and a storage snapshot; a stored
// snapshot means login is skipped.
type PersistentBackend struct {
	config Config

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	restored bool
	closed   bool
}

// NewPersistent creates a persistent backend. No browser is launched yet.
func NewPersistent(cfg Config) (*PersistentBackend, error) {
	cfg = cfg.withDefaults(DefaultPersistentWait)

	logger.Debug("persistent backend created",
		"headless", cfg.Headless,
		"profile_dir", cfg.ProfileDir,
		"wait_selector", cfg.WaitSelector,
		"wait_timeout", cfg.WaitTimeout)

	return &PersistentBackend{config: cfg}, nil
}

// newLauncher builds the Chrome launcher for cfg.
func newLauncher(cfg Config) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		UserDataDir(cfg.ProfileDir).
		Set("disable-dev-shm-usage").
		Set("user-agent", cfg.UserAgent).
		Leakless(true)
	if path := FindChromePath(); path != "" {
		l = l.Bin(path)
	}
	return l
}

// start launches the browser, opens the working page and restores storage once.
func (b *PersistentBackend) start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("persistent backend is closed")
	}
	if b.page != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l := newLauncher(b.config)
	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("connecting to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return fmt.Errorf("opening page: %w", err)
	}

	b.launcher = l
	b.browser = browser
	b.page = page
	b.restoreState()
	return nil
}

// restoreState applies the stored snapshot. Must be called with mu held.
func (b *PersistentBackend) restoreState() {
	s, ok := b.config.Sessions.Load(string(AutomatedPersistent))
	if !ok {
		return
	}
	state, err := decodeStorageState(s.Data)
	if err != nil {
		logger.Warn("persistent session undecodable, ignoring", "error", err)
		return
	}

	if len(state.Cookies) > 0 {
		if err := b.browser.SetCookies(proto.CookiesToParams(state.Cookies)); err != nil {
			logger.Warn("failed to restore persistent session cookies", "error", err)
			return
		}
	}

	script, err := localStorageScript(state.Origins)
	if err != nil {
		logger.Warn("failed to build localStorage restore script", "error", err)
	} else if script != "" {
		if _, err := b.page.EvalOnNewDocument(script); err != nil {
			logger.Warn("failed to install localStorage restore script", "error", err)
		}
	}

	b.restored = true
	logger.Info("persistent session loaded from storage state",
		"cookies", len(state.Cookies),
		"origins", len(state.Origins))
}

// Login fills and submits the login form unless a storage snapshot exists.
// Missing form elements are warnings; the run continues.
func (b *PersistentBackend) Login(ctx context.Context) (LoginReport, error) {
	creds := b.config.Credentials
	if !creds.LoginConfigured() {
		logger.Info("no valid login URL provided, skipping login")
		return LoginReport{Status: LoginSkippedNoURL}, nil
	}
	if err := b.start(ctx); err != nil {
		return LoginReport{}, err
	}
	if b.restored {
		logger.Info("persistent login skipped, storage state exists")
		return LoginReport{Status: LoginSkippedSession}, nil
	}

	report := LoginReport{Status: LoginPerformed}
	page := b.page.Context(ctx)

	nav := page.Timeout(b.config.Timeout)
	if err := nav.Navigate(creds.LoginURL); err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Warnings = append(report.Warnings, fmt.Errorf("login page navigation: %w", err))
		logger.Warn("login page navigation failed", "url", creds.LoginURL, "error", err)
	} else if err := nav.WaitLoad(); err != nil {
		logger.Debug("login page load wait failed", "error", err)
	}

	for _, field := range []struct{ name, value string }{
		{creds.UsernameField, creds.Username},
		{creds.PasswordField, creds.Password},
	} {
		if err := fillElement(page, b.config.ElementTimeout, field.name, field.value); err != nil {
			report.Warnings = append(report.Warnings, err)
			logger.Warn("login field not filled", "field", field.name, "error", err)
		}
	}

	if btn, err := page.Timeout(b.config.ElementTimeout).Element(b.config.SubmitSelector); err != nil {
		report.Warnings = append(report.Warnings, fmt.Errorf("login button: %w", err))
		logger.Warn("login button not found", "selector", b.config.SubmitSelector, "error", err)
	} else if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		report.Warnings = append(report.Warnings, fmt.Errorf("login button: %w", err))
		logger.Warn("login button click failed", "error", err)
	}

	select {
	case <-ctx.Done():
		return report, ctx.Err()
	case <-time.After(b.config.LoginSettle):
	}

	if err := b.saveState(page); err != nil {
		report.Warnings = append(report.Warnings, err)
		logger.Warn("failed to save persistent session", "error", err)
	} else {
		logger.Info("persistent login submitted, storage state stored", "warnings", len(report.Warnings))
	}
	return report, nil
}

// fillElement replaces the value of input[name=field].
func fillElement(page *rod.Page, timeout time.Duration, field, value string) error {
	el, err := page.Timeout(timeout).Element(fieldSelector(field))
	if err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	return nil
}

// saveState snapshots cookies and the current origin's localStorage.
func (b *PersistentBackend) saveState(page *rod.Page) error {
	cookies, err := b.browser.GetCookies()
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	state := StorageState{Cookies: cookies}

	if origin, items, err := snapshotLocalStorage(page.Timeout(b.config.ElementTimeout)); err != nil {
		logger.Debug("localStorage snapshot skipped", "error", err)
	} else if len(items) > 0 {
		state.Origins = append(state.Origins, OriginStorage{Origin: origin, LocalStorage: items})
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode storage state: %w", err)
	}
	return b.config.Sessions.Save(string(AutomatedPersistent), session.Session{Data: data, SavedAt: time.Now()})
}

// snapshotLocalStorage returns the page origin and its localStorage entries.
func snapshotLocalStorage(page *rod.Page) (string, map[string]string, error) {
	originObj, err := page.Eval(`() => location.origin`)
	if err != nil {
		return "", nil, err
	}
	itemsObj, err := page.Eval(`() => JSON.stringify(Object.assign({}, localStorage))`)
	if err != nil {
		return "", nil, err
	}
	items := map[string]string{}
	if err := json.Unmarshal([]byte(itemsObj.Value.Str()), &items); err != nil {
		return "", nil, err
	}
	return originObj.Value.Str(), items, nil
}

// Fetch navigates to url, waits for the content marker and captures the DOM.
// A marker timeout is a warning on the returned Document.
func (b *PersistentBackend) Fetch(ctx context.Context, targetURL string) (Document, error) {
	if err := b.start(ctx); err != nil {
		return Document{}, err
	}
	logger.Debug("persistent fetch starting", "url", targetURL)

	page := b.page.Context(ctx)
	nav := page.Timeout(b.config.Timeout)
	if err := nav.Navigate(targetURL); err != nil {
		return Document{}, fmt.Errorf("browser navigation failed: %w", err)
	}
	if err := nav.WaitLoad(); err != nil {
		logger.Debug("page load wait failed", "url", targetURL, "error", err)
	}

	var warnings []error
	if sel := b.config.WaitSelector; sel != "" {
		if _, err := page.Timeout(b.config.WaitTimeout).Element(sel); err != nil {
			if ctx.Err() != nil {
				return Document{}, ctx.Err()
			}
			warnings = append(warnings, fmt.Errorf("%w: %s after %s", ErrFetchTimeout, sel, b.config.WaitTimeout))
			logger.Warn("timeout waiting for dynamic content", "selector", sel, "timeout", b.config.WaitTimeout)
		}
	}

	html, err := page.Timeout(b.config.Timeout).HTML()
	if err != nil {
		return Document{}, fmt.Errorf("failed to capture page: %w", err)
	}

	doc := newDocument(targetURL, html, 200)
	doc.Warnings = warnings
	logger.Debug("persistent fetch complete", "url", targetURL, "html_size", len(html), "fingerprint", doc.Fingerprint)
	return doc, nil
}

// Close shuts down the browser and launcher. The profile dir is kept.
// Safe to call repeatedly.
func (b *PersistentBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
		b.page = nil
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher = nil
	}
	return err
}

// Kind returns AutomatedPersistent.
func (b *PersistentBackend) Kind() Kind {
	return AutomatedPersistent
}
