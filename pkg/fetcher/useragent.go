package fetcher

import (
	browser "github.com/EDDYCJY/fake-useragent"

	"github.com/jmylchreest/chatcrawler/internal/logger"
)

// randomUserAgent is swapped in tests.
var randomUserAgent = browser.Random

// resolveUserAgent picks a random desktop user agent when asked, else the default.
func resolveUserAgent(random bool) string {
	if !random {
		return DefaultUserAgent
	}
	ua := randomUserAgent()
	if ua == "" {
		logger.Warn("random user agent unavailable, using default")
		return DefaultUserAgent
	}
	logger.Debug("using random user agent", "user_agent", ua)
	return ua
}
