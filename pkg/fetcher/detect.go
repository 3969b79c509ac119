package fetcher

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// minVisibleText is the body text length below which a page counts as a shell.
const minVisibleText = 100

// spaMountSelectors match empty framework mount points.
var spaMountSelectors = []string{
	"div#root",
	"div#app",
	"div#__next",
	"div#__nuxt",
	"app-root",
	"[data-reactroot]",
	"[ng-app]",
	"[v-cloak]",
}

var jsNotices = []string{
	"enable javascript",
	"javascript required",
	"javascript is required",
	"please wait",
	"loading",
}

// ScriptRendered reports whether html looks like a page whose content is
// rendered client side, and names the signal that matched. The direct
// backend cannot execute scripts, so such pages usually yield few listings.
func ScriptRendered(html string) (bool, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, ""
	}

	for _, sel := range spaMountSelectors {
		mount := doc.Find(sel).First()
		if mount.Length() > 0 && strings.TrimSpace(mount.Text()) == "" {
			return true, "empty " + sel + " mount point"
		}
	}

	noscript := strings.ToLower(doc.Find("noscript").Text())
	if strings.Contains(noscript, "javascript") {
		return true, "noscript notice"
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	text := strings.ToLower(strings.Join(strings.Fields(body.Text()), " "))
	if len(text) < minVisibleText {
		for _, notice := range jsNotices {
			if strings.Contains(text, notice) {
				return true, "placeholder text " + `"` + notice + `"`
			}
		}
	}
	return false, ""
}
