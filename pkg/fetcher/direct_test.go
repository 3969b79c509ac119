package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cespare/xxhash/v2"

	"github.com/jmylchreest/chatcrawler/pkg/session"
)

const listingPage = `<html><body><div class="card">Flat | 100</div></body></html>`

// newSiteServer serves /login (form POST setting a cookie) and /listings
// (requires the cookie when protected is true).
func newSiteServer(t *testing.T, loginStatus int, protected bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.FormValue("user") != "alice" || r.FormValue("pass") != "s3cret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if loginStatus != http.StatusOK {
			w.WriteHeader(loginStatus)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc123", Path: "/"})
		w.Write([]byte("welcome"))
	})
	mux.HandleFunc("/listings", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if protected {
			if c, err := r.Cookie("sid"); err != nil || c.Value != "abc123" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(listingPage))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func directConfig(loginURL string, store session.Store) Config {
	return Config{
		Sessions: store,
		Credentials: Credentials{
			LoginURL:      loginURL,
			UsernameField: "user",
			Username:      "alice",
			PasswordField: "pass",
			Password:      "s3cret",
		},
	}
}

// --- Login Tests ---

func TestDirect_LoginPlaceholderMakesNoRequest(t *testing.T) {
	_, hits := newSiteServer(t, http.StatusOK, false)

	for _, loginURL := range []string{"", "${LOGIN_URL}"} {
		b, err := NewDirect(directConfig(loginURL, session.NewMemoryStore()))
		if err != nil {
			t.Fatalf("NewDirect() error = %v", err)
		}

		report, err := b.Login(context.Background())
		if err != nil {
			t.Fatalf("Login(%q) error = %v", loginURL, err)
		}
		if report.Status != LoginSkippedNoURL {
			t.Errorf("Login(%q) status = %v, want skipped", loginURL, report.Status)
		}
	}

	if n := hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestDirect_LoginRejected(t *testing.T) {
	srv, _ := newSiteServer(t, http.StatusUnauthorized, false)
	store := session.NewMemoryStore()

	b, err := NewDirect(directConfig(srv.URL+"/login", store))
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}

	_, err = b.Login(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Login() error = %v, want ErrAuth", err)
	}
	if _, ok := store.Load(string(Direct)); ok {
		t.Error("expected no session saved after rejected login")
	}
}

func TestDirect_LoginUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/login"
	srv.Close()

	b, err := NewDirect(directConfig(url, session.NewMemoryStore()))
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}
	if _, err := b.Login(context.Background()); !errors.Is(err, ErrAuth) {
		t.Errorf("Login() error = %v, want ErrAuth", err)
	}
}

func TestDirect_LoginThenFetchUsesCookies(t *testing.T) {
	srv, _ := newSiteServer(t, http.StatusOK, true)
	store := session.NewMemoryStore()

	b, err := NewDirect(directConfig(srv.URL+"/login", store))
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}
	defer b.Close()

	report, err := b.Login(context.Background())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if report.Status != LoginPerformed {
		t.Errorf("status = %v, want performed", report.Status)
	}

	doc, err := b.Fetch(context.Background(), srv.URL+"/listings")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if doc.HTML != listingPage {
		t.Errorf("HTML = %q", doc.HTML)
	}
}

func TestDirect_SessionPersistsAcrossBackends(t *testing.T) {
	srv, _ := newSiteServer(t, http.StatusOK, true)
	store := session.NewMemoryStore()

	first, err := NewDirect(directConfig(srv.URL+"/login", store))
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}
	if _, err := first.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	first.Close()

	s, ok := store.Load(string(Direct))
	if !ok {
		t.Fatal("expected stored session after login")
	}
	var state directState
	if err := json.Unmarshal(s.Data, &state); err != nil {
		t.Fatalf("stored session is not valid JSON: %v", err)
	}
	if len(state.Cookies) != 1 || state.Cookies[0].Name != "sid" {
		t.Errorf("unexpected stored cookies: %+v", state.Cookies)
	}

	// No login configured: the restored cookie alone must authorize the fetch.
	second, err := NewDirect(directConfig("", store))
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}
	defer second.Close()

	if _, err := second.Fetch(context.Background(), srv.URL+"/listings"); err != nil {
		t.Errorf("Fetch() with restored session error = %v", err)
	}
}

func TestDirect_CorruptSessionIgnored(t *testing.T) {
	srv, _ := newSiteServer(t, http.StatusOK, false)
	store := session.NewMemoryStore()
	_ = store.Save(string(Direct), session.Session{Data: []byte("not json")})

	b, err := NewDirect(directConfig("", store))
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}
	if _, err := b.Fetch(context.Background(), srv.URL+"/listings"); err != nil {
		t.Errorf("Fetch() error = %v", err)
	}
}

// --- Fetch Tests ---

func TestDirect_Fetch(t *testing.T) {
	srv, _ := newSiteServer(t, http.StatusOK, false)

	b, err := NewDirect(Config{Sessions: session.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}

	doc, err := b.Fetch(context.Background(), srv.URL+"/listings")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if doc.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", doc.StatusCode)
	}
	if doc.SourceURL != srv.URL+"/listings" {
		t.Errorf("SourceURL = %q", doc.SourceURL)
	}
	if doc.Fingerprint != xxhash.Sum64String(listingPage) {
		t.Error("fingerprint does not match HTML")
	}
	if doc.FetchedAt.IsZero() {
		t.Error("expected FetchedAt to be set")
	}
	if len(doc.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", doc.Warnings)
	}
}

func TestDirect_FetchErrorStatus(t *testing.T) {
	srv, _ := newSiteServer(t, http.StatusOK, true)

	b, err := NewDirect(Config{Sessions: session.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}

	if _, err := b.Fetch(context.Background(), srv.URL+"/listings"); err == nil {
		t.Error("expected error for 403 response")
	}
}

func TestDirect_FetchCanceled(t *testing.T) {
	srv, _ := newSiteServer(t, http.StatusOK, false)

	b, err := NewDirect(Config{Sessions: session.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Fetch(ctx, srv.URL+"/listings"); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestDirect_CloseIsSafe(t *testing.T) {
	b, err := NewDirect(Config{Sessions: session.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewDirect() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
