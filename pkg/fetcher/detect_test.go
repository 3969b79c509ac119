package fetcher

import (
	"strings"
	"testing"
)

// --- ScriptRendered ---

func TestScriptRendered(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		want   bool
		signal string
	}{
		{
			name:   "react mount",
			html:   `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`,
			want:   true,
			signal: "div#root",
		},
		{
			name: "populated mount",
			html: `<html><body><div id="root"><div class="card">Flat</div></div></body></html>`,
		},
		{
			name:   "noscript notice",
			html:   `<html><body><noscript>You need to enable JavaScript to run this app.</noscript><p>x</p></body></html>`,
			want:   true,
			signal: "noscript",
		},
		{
			name:   "loading placeholder",
			html:   `<html><body><p>Loading...</p></body></html>`,
			want:   true,
			signal: "loading",
		},
		{
			name: "long page mentioning loading",
			html: `<html><body><p>` + strings.Repeat("Spacious flat with loading bay. ", 10) + `</p></body></html>`,
		},
		{
			name: "static listings",
			html: `<html><body><div class="card">Two bed flat | £950 pcm</div></body></html>`,
		},
		{name: "empty", html: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, signal := ScriptRendered(tt.html)
			if got != tt.want {
				t.Fatalf("ScriptRendered() = %v (%q), want %v", got, signal, tt.want)
			}
			if tt.signal != "" && !strings.Contains(signal, tt.signal) {
				t.Errorf("signal = %q, want it to mention %q", signal, tt.signal)
			}
		})
	}
}
