package chat

import (
	"regexp"
	"strconv"

	"github.com/bbiangul/ragcore/ragengine"
)

// citationPattern matches the [N] inline markers the grounded search
// prompt asks the model to emit, one per numbered context entry.
var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// validateCitations enforces that every [N] marker in content actually
// names a context entry the model was given (I6): markers referencing an
// out-of-range number are stripped from the text rather than surfaced as
// a broken citation, since a hallucinated reference number is worse than
// no reference. Returns the cleaned content and the ordered, deduplicated
// list of citations the model actually used.
func validateCitations(content string, curated []ragengine.ComprehensiveResult) (string, []Citation) {
	seen := map[int]bool{}
	var citations []Citation

	cleaned := citationPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := citationPattern.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 || n > len(curated) {
			return ""
		}
		if !seen[n] {
			seen[n] = true
			r := curated[n-1]
			citations = append(citations, Citation{Number: n, Title: r.Title, Source: r.Source})
		}
		return match
	})

	return cleaned, citations
}
