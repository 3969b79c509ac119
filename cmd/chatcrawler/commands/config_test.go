package commands

import (
	"testing"
)

// --- expandEnv ---

func TestExpandEnv(t *testing.T) {
	t.Setenv("CC_TEST_USER", "alice")

	tests := []struct {
		in   string
		want string
	}{
		{in: "${CC_TEST_USER}", want: "alice"},
		{in: "$CC_TEST_USER", want: "alice"},
		{in: "${CC_TEST_UNSET_VAR}", want: "${CC_TEST_UNSET_VAR}"},
		{in: "https://example.com/login", want: "https://example.com/login"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := expandEnv(tt.in); got != tt.want {
				t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// --- parsePromptSize ---

func TestParsePromptSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "", want: -1},
		{in: "0", want: -1},
		{in: "24000", want: 24000},
		{in: "32KB", want: 32000},
		{in: "1KiB", want: 1024},
		{in: "lots", wantErr: true},
		{in: "10EB", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePromptSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePromptSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parsePromptSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
