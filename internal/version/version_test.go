package version

import (
	"strings"
	"testing"
)

func TestStringDirty(t *testing.T) {
	oldV, oldD := Version, Dirty
	t.Cleanup(func() { Version, Dirty = oldV, oldD })

	Version, Dirty = "1.2.3", "true"
	if got := String(); got != "1.2.3-dirty" {
		t.Errorf("String() = %q, want 1.2.3-dirty", got)
	}
	if !Get().Dirty {
		t.Error("Get().Dirty should be true")
	}
}

func TestFull(t *testing.T) {
	oldV := Version
	t.Cleanup(func() { Version = oldV })

	Version = "0.4.0"
	out := Full()
	if !strings.HasPrefix(out, "chatcrawler 0.4.0") {
		t.Errorf("Full() = %q", out)
	}
	if !strings.Contains(out, "OS/Arch:") {
		t.Errorf("Full() missing platform: %q", out)
	}
}
