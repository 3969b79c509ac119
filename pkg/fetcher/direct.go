package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/jmylchreest/chatcrawler/internal/logger"
	"github.com/jmylchreest/chatcrawler/pkg/session"
)

// directState is the session blob for the direct backend.
type directState struct {
	Origin  string        `json:"origin"`
	Cookies []savedCookie `json:"cookies"`
}

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DirectBackend uses Colly for plain HTTP fetching and form login.
// Cookies live in a jar shared by every request of the backend.
type DirectBackend struct {
	config    Config
	collector *colly.Collector
	jar       http.CookieJar
}

// NewDirect creates a direct backend and restores any stored cookies.
func NewDirect(cfg Config) (*DirectBackend, error) {
	cfg = cfg.withDefaults(0)

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(cfg.Timeout)
	c.SetCookieJar(jar)
	// Non-2xx responses reach OnResponse so the status can be judged here.
	c.ParseHTTPErrorResponse = true
	if cfg.Bypass {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		c.WithTransport(cloudflarebp.AddCloudFlareByPass(transport))
	}

	b := &DirectBackend{config: cfg, collector: c, jar: jar}
	b.restoreSession()

	logger.Debug("direct backend created",
		"user_agent", cfg.UserAgent,
		"timeout", cfg.Timeout,
		"bypass", cfg.Bypass)

	return b, nil
}

// restoreSession loads stored cookies into the jar. Problems mean a fresh login.
func (b *DirectBackend) restoreSession() {
	s, ok := b.config.Sessions.Load(string(Direct))
	if !ok {
		return
	}
	var state directState
	if err := json.Unmarshal(s.Data, &state); err != nil {
		logger.Warn("direct session undecodable, ignoring", "error", err)
		return
	}
	origin, err := url.Parse(state.Origin)
	if err != nil || origin.Host == "" {
		logger.Warn("direct session has no usable origin, ignoring", "origin", state.Origin)
		return
	}

	cookies := make([]*http.Cookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	b.jar.SetCookies(origin, cookies)
	logger.Info("direct session cookies loaded", "origin", state.Origin, "cookies", len(cookies))
}

// Login posts the credential form. Any failure is ErrAuth.
func (b *DirectBackend) Login(ctx context.Context) (LoginReport, error) {
	creds := b.config.Credentials
	if !creds.LoginConfigured() {
		logger.Info("no valid login URL provided, skipping login")
		return LoginReport{Status: LoginSkippedNoURL}, nil
	}

	loginURL, err := url.Parse(creds.LoginURL)
	if err != nil {
		return LoginReport{}, fmt.Errorf("%w: invalid login URL: %v", ErrAuth, err)
	}

	status := 0
	cc := b.clone(ctx)
	cc.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	cc.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		logger.Debug("direct login error", "status", status, "error", err)
	})

	logger.Debug("direct login posting form", "url", creds.LoginURL, "username_field", creds.UsernameField)
	if err := cc.Post(creds.LoginURL, creds.formData()); err != nil {
		return LoginReport{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if status < 200 || status > 299 {
		return LoginReport{}, fmt.Errorf("%w: login returned status %d", ErrAuth, status)
	}

	logger.Info("direct login success", "status", status)
	if err := b.saveSession(loginURL); err != nil {
		logger.Warn("failed to save direct session", "error", err)
	}
	return LoginReport{Status: LoginPerformed}, nil
}

// saveSession stores the jar's cookies for the login origin.
func (b *DirectBackend) saveSession(loginURL *url.URL) error {
	origin := &url.URL{Scheme: loginURL.Scheme, Host: loginURL.Host, Path: "/"}
	state := directState{Origin: origin.String()}
	for _, c := range b.jar.Cookies(loginURL) {
		state.Cookies = append(state.Cookies, savedCookie{Name: c.Name, Value: c.Value})
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.config.Sessions.Save(string(Direct), session.Session{Data: data, SavedAt: time.Now()})
}

// Fetch retrieves url. A 4xx/5xx response is an error.
func (b *DirectBackend) Fetch(ctx context.Context, targetURL string) (Document, error) {
	logger.Debug("direct fetch starting", "url", targetURL)

	var (
		body     string
		status   int
		fetchErr error
	)
	cc := b.clone(ctx)
	cc.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
		logger.Debug("direct fetch response received",
			"status", r.StatusCode,
			"content_type", r.Headers.Get("Content-Type"),
			"body_size", len(r.Body))
	})
	cc.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = fmt.Errorf("fetch error: %w", err)
	})

	if err := cc.Visit(targetURL); err != nil {
		return Document{}, fmt.Errorf("failed to visit URL: %w", err)
	}
	if fetchErr != nil {
		return Document{}, fetchErr
	}
	if status >= 400 {
		return Document{}, fmt.Errorf("fetch %s: status %d %s", targetURL, status, http.StatusText(status))
	}

	doc := newDocument(targetURL, body, status)
	logger.Debug("direct fetch complete", "url", targetURL, "fingerprint", doc.Fingerprint)
	return doc, nil
}

// clone returns a callback-free collector bound to ctx. Clones share the jar and transport.
func (b *DirectBackend) clone(ctx context.Context) *colly.Collector {
	cc := b.collector.Clone()
	cc.Context = ctx
	return cc
}

// Close releases resources.
func (b *DirectBackend) Close() error {
	return nil
}

// Kind returns Direct.
func (b *DirectBackend) Kind() Kind {
	return Direct
}
