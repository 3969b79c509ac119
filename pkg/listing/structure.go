package listing

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MaxStructureLines caps the structure summary.
const MaxStructureLines = 20

// structureTags are the container tags worth reporting.
const structureTags = "div, section, article, ul, li"

// Summarize lists the distinct "<tag> class=..." signatures of classed
// containers in document order. It is advisory output for tuning selectors;
// unparsable input yields nil.
func Summarize(doc string) []string {
	root, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var lines []string
	seen := make(map[string]bool)
	root.Find(structureTags).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		class := strings.Join(strings.Fields(s.AttrOr("class", "")), " ")
		if class == "" {
			return true
		}
		line := fmt.Sprintf("<%s> class=%s", goquery.NodeName(s), class)
		if seen[line] {
			return true
		}
		seen[line] = true
		lines = append(lines, line)
		return len(lines) < MaxStructureLines
	})
	return lines
}
