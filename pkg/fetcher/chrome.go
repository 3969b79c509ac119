package fetcher

import (
	"os/exec"
	"sync"

	"github.com/jmylchreest/chatcrawler/internal/logger"
)

// Common Chrome/Chromium binary names across different systems
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

var (
	chromePathOnce sync.Once
	chromePath     string
)

// FindChromePath returns the first Chrome/Chromium binary found on PATH or in
// a well-known install location, or "" to let the browser library decide.
// The lookup runs once per process.
func FindChromePath() string {
	chromePathOnce.Do(func() {
		for _, name := range chromeBinaryNames {
			if path, err := exec.LookPath(name); err == nil {
				logger.Debug("found Chrome binary", "name", name, "path", path)
				chromePath = path
				return
			}
		}
		logger.Debug("no Chrome binary found, using browser library default")
	})
	return chromePath
}
