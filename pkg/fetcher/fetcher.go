// Package fetcher defines the interchangeable page acquisition backends.
//
// Every backend logs in (optionally), fetches raw HTML and releases its
// resources. Backends are selected by Kind through a lookup table:
//
//	b, err := fetcher.New(fetcher.Direct, cfg)
//	if err != nil { ... }
//	defer b.Close()
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jmylchreest/chatcrawler/pkg/session"
)

// Kind names a backend variant.
type Kind string

const (
	// Direct issues plain HTTP requests. It cannot run page scripts.
	Direct Kind = "direct"
	// Automated drives a fresh headless browser per run.
	Automated Kind = "automated"
	// AutomatedPersistent drives a browser with a durable profile and storage snapshot.
	AutomatedPersistent Kind = "automated-persistent"
)

// kindAliases maps legacy engine names onto kinds.
var kindAliases = map[string]Kind{
	"requests":   Direct,
	"http":       Direct,
	"selenium":   Automated,
	"chromedp":   Automated,
	"playwright": AutomatedPersistent,
	"rod":        AutomatedPersistent,
}

// ParseKind resolves a backend name or alias.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if _, ok := registry[Kind(n)]; ok {
		return Kind(n), nil
	}
	if k, ok := kindAliases[n]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Kinds lists the registered backend kinds.
func Kinds() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// Error types for distinguishing failure reasons.
// Check with errors.Is(err, fetcher.ErrAuth).
var (
	// ErrAuth indicates the login endpoint rejected the submission.
	ErrAuth = errors.New("authentication failed")
	// ErrFetchTimeout indicates the dynamic content marker never appeared.
	// It is reported as a Document warning, never returned from Fetch.
	ErrFetchTimeout = errors.New("timed out waiting for dynamic content")
	// ErrUnknownKind indicates a backend name with no registered constructor.
	ErrUnknownKind = errors.New("unknown backend")
)

// Credentials describe the login form.
type Credentials struct {
	LoginURL      string
	UsernameField string
	Username      string
	PasswordField string
	Password      string
}

// LoginConfigured reports whether LoginURL is set and not an unexpanded placeholder.
func (c Credentials) LoginConfigured() bool {
	u := strings.TrimSpace(c.LoginURL)
	return u != "" && !strings.HasPrefix(u, "${")
}

// formData returns the fields submitted to the login endpoint.
func (c Credentials) formData() map[string]string {
	return map[string]string{
		c.UsernameField: c.Username,
		c.PasswordField: c.Password,
	}
}

// Config holds configuration shared by all backends. Zero fields take DefaultConfig values.
type Config struct {
	Headless        bool
	UserAgent       string
	RandomUserAgent bool // pick a random browser user agent per backend
	Bypass          bool // wrap the direct transport with Cloudflare header mimicry
	Timeout         time.Duration
	WaitSelector    string        // dynamic content marker (browser backends)
	WaitTimeout     time.Duration // bound on the marker wait
	ElementTimeout  time.Duration // bound on locating login form elements
	LoginSettle     time.Duration // pause after submitting the login form
	SubmitSelector  string
	ProfileDir      string // browser profile for AutomatedPersistent
	Credentials     Credentials
	Sessions        session.Store
}

// Defaults.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultSubmitSelector = "button[type='submit'], input[type='submit']"
	DefaultProfileDir     = "output/browser-profile"
)

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		UserAgent:      DefaultUserAgent,
		Timeout:        30 * time.Second,
		ElementTimeout: 10 * time.Second,
		LoginSettle:    2 * time.Second,
		SubmitSelector: DefaultSubmitSelector,
		ProfileDir:     DefaultProfileDir,
		Credentials: Credentials{
			UsernameField: "username",
			PasswordField: "password",
		},
	}
}

// withDefaults fills zero fields. waitTimeout is the backend-specific marker bound.
func (cfg Config) withDefaults(waitTimeout time.Duration) Config {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = resolveUserAgent(cfg.RandomUserAgent)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = waitTimeout
	}
	if cfg.ElementTimeout == 0 {
		cfg.ElementTimeout = def.ElementTimeout
	}
	if cfg.LoginSettle == 0 {
		cfg.LoginSettle = def.LoginSettle
	}
	if cfg.SubmitSelector == "" {
		cfg.SubmitSelector = def.SubmitSelector
	}
	if cfg.ProfileDir == "" {
		cfg.ProfileDir = def.ProfileDir
	}
	if cfg.Credentials.UsernameField == "" {
		cfg.Credentials.UsernameField = def.Credentials.UsernameField
	}
	if cfg.Credentials.PasswordField == "" {
		cfg.Credentials.PasswordField = def.Credentials.PasswordField
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewFileStore("")
	}
	return cfg
}

// Document is one fetched page.
type Document struct {
	HTML        string
	SourceURL   string
	FetchedAt   time.Time
	StatusCode  int
	Fingerprint uint64  // xxhash of HTML
	Warnings    []error // degradations such as ErrFetchTimeout
}

// newDocument stamps and fingerprints html.
func newDocument(url, html string, status int) Document {
	return Document{
		HTML:        html,
		SourceURL:   url,
		FetchedAt:   time.Now(),
		StatusCode:  status,
		Fingerprint: xxhash.Sum64String(html),
	}
}

// LoginStatus describes what Login did.
type LoginStatus int

const (
	// LoginSkippedNoURL means no usable login URL was configured.
	LoginSkippedNoURL LoginStatus = iota
	// LoginSkippedSession means a stored session was reused.
	LoginSkippedSession
	// LoginPerformed means the form was submitted.
	LoginPerformed
)

// String returns a human-readable status.
func (s LoginStatus) String() string {
	switch s {
	case LoginSkippedNoURL:
		return "skipped (no login URL)"
	case LoginSkippedSession:
		return "skipped (stored session)"
	case LoginPerformed:
		return "performed"
	default:
		return "unknown"
	}
}

// LoginReport is the outcome of a Login that did not abort.
type LoginReport struct {
	Status   LoginStatus
	Warnings []error // best-effort failures on browser backends
}

// Backend acquires HTML for a URL.
type Backend interface {
	// Login authenticates with the configured credentials. Only the direct
	// backend returns ErrAuth; browser backends report problems as warnings.
	Login(ctx context.Context) (LoginReport, error)

	// Fetch retrieves the document at url.
	Fetch(ctx context.Context, url string) (Document, error)

	// Close releases resources. It is safe to call at any time, more than once.
	Close() error

	// Kind identifies the backend variant.
	Kind() Kind
}

// Factory constructs a backend from configuration.
type Factory func(cfg Config) (Backend, error)

var registry = map[Kind]Factory{
	Direct: func(cfg Config) (Backend, error) {
		return NewDirect(cfg)
	},
	Automated: func(cfg Config) (Backend, error) {
		return NewAutomated(cfg)
	},
	AutomatedPersistent: func(cfg Config) (Backend, error) {
		return NewPersistent(cfg)
	},
}

// New creates the backend registered for kind.
func New(kind Kind, cfg Config) (Backend, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return factory(cfg)
}
