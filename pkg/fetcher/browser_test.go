package fetcher

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/go-rod/rod/lib/proto"

	"github.com/jmylchreest/chatcrawler/pkg/session"
)

// Browser backends are exercised without launching Chrome: every test here
// stays on paths that return before the browser starts.

// --- Automated Tests ---

func TestAutomated_LoginPlaceholderSkipsBrowser(t *testing.T) {
	b, err := NewAutomated(Config{
		Sessions:    session.NewMemoryStore(),
		Credentials: Credentials{LoginURL: "${LOGIN_URL}"},
	})
	if err != nil {
		t.Fatalf("NewAutomated() error = %v", err)
	}
	defer b.Close()

	report, err := b.Login(context.Background())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if report.Status != LoginSkippedNoURL {
		t.Errorf("status = %v, want skipped", report.Status)
	}
	if b.started {
		t.Error("browser should not start for a placeholder login")
	}
}

func TestAutomated_DefaultWait(t *testing.T) {
	b, err := NewAutomated(Config{Sessions: session.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewAutomated() error = %v", err)
	}
	defer b.Close()

	if b.config.WaitTimeout != DefaultAutomatedWait {
		t.Errorf("WaitTimeout = %v, want %v", b.config.WaitTimeout, DefaultAutomatedWait)
	}
}

func TestAutomated_CloseBeforeUse(t *testing.T) {
	b, err := NewAutomated(Config{Sessions: session.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewAutomated() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := b.Fetch(context.Background(), "https://example.com"); err == nil {
		t.Error("expected Fetch after Close to fail")
	}
}

func TestCookieParams(t *testing.T) {
	expires := float64(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	cookies := []*network.Cookie{
		{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", Secure: true, HTTPOnly: true, Expires: expires},
		{Name: "tmp", Value: "1", Domain: "example.com", Path: "/", Session: true, Expires: -1},
		nil,
	}

	params := cookieParams(cookies)
	if len(params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(params))
	}

	sid := params[0]
	if sid.Name != "sid" || sid.Value != "abc" || sid.Domain != "example.com" || !sid.Secure || !sid.HTTPOnly {
		t.Errorf("unexpected param: %+v", sid)
	}
	if sid.Expires == nil || !sid.Expires.Time().Equal(time.Unix(int64(expires), 0)) {
		t.Errorf("Expires = %v, want %v", sid.Expires, time.Unix(int64(expires), 0))
	}
	if params[1].Expires != nil {
		t.Error("session cookie should carry no expiry")
	}
}

func TestFieldSelector(t *testing.T) {
	if got := fieldSelector("username"); got != `input[name="username"]` {
		t.Errorf("fieldSelector() = %q", got)
	}
}

// --- Persistent Tests ---

func TestPersistent_LoginPlaceholderSkipsBrowser(t *testing.T) {
	b, err := NewPersistent(Config{
		Sessions:    session.NewMemoryStore(),
		Credentials: Credentials{LoginURL: ""},
	})
	if err != nil {
		t.Fatalf("NewPersistent() error = %v", err)
	}
	defer b.Close()

	report, err := b.Login(context.Background())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if report.Status != LoginSkippedNoURL {
		t.Errorf("status = %v, want skipped", report.Status)
	}
	if b.browser != nil {
		t.Error("browser should not launch for a placeholder login")
	}
}

func TestPersistent_Defaults(t *testing.T) {
	b, err := NewPersistent(Config{Sessions: session.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewPersistent() error = %v", err)
	}
	defer b.Close()

	if b.config.WaitTimeout != DefaultPersistentWait {
		t.Errorf("WaitTimeout = %v, want %v", b.config.WaitTimeout, DefaultPersistentWait)
	}
	if b.config.ProfileDir != DefaultProfileDir {
		t.Errorf("ProfileDir = %q, want %q", b.config.ProfileDir, DefaultProfileDir)
	}
}

func TestPersistent_CloseBeforeUse(t *testing.T) {
	b, err := NewPersistent(Config{Sessions: session.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewPersistent() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := b.Fetch(context.Background(), "https://example.com"); err == nil {
		t.Error("expected Fetch after Close to fail")
	}
}

func TestDecodeStorageState(t *testing.T) {
	state := StorageState{
		Cookies: []*proto.NetworkCookie{{Name: "sid", Value: "abc", Domain: "example.com", Path: "/"}},
		Origins: []OriginStorage{{Origin: "https://example.com", LocalStorage: map[string]string{"token": "t"}}},
	}
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got, err := decodeStorageState(data)
	if err != nil {
		t.Fatalf("decodeStorageState() error = %v", err)
	}
	if len(got.Cookies) != 1 || got.Cookies[0].Name != "sid" {
		t.Errorf("unexpected cookies: %+v", got.Cookies)
	}
	if got.Origins[0].LocalStorage["token"] != "t" {
		t.Errorf("unexpected origins: %+v", got.Origins)
	}

	for _, bad := range []string{"garbage", "{}", `{"cookies":[],"origins":[]}`} {
		if _, err := decodeStorageState([]byte(bad)); err == nil {
			t.Errorf("decodeStorageState(%q) expected error", bad)
		}
	}
}

func TestLocalStorageScript(t *testing.T) {
	script, err := localStorageScript([]OriginStorage{
		{Origin: "https://example.com", LocalStorage: map[string]string{"token": `a"b`}},
		{Origin: "", LocalStorage: map[string]string{"x": "y"}},
		{Origin: "https://empty.example", LocalStorage: nil},
	})
	if err != nil {
		t.Fatalf("localStorageScript() error = %v", err)
	}
	if !strings.Contains(script, `"https://example.com":{"token":"a\"b"}`) {
		t.Errorf("script missing escaped origin data: %s", script)
	}
	if strings.Contains(script, "empty.example") {
		t.Error("origins without items should be skipped")
	}

	none, err := localStorageScript(nil)
	if err != nil || none != "" {
		t.Errorf("expected empty script, got %q (err %v)", none, err)
	}
}
