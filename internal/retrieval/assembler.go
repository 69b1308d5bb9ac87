package retrieval

import (
	"fmt"
	"strings"
)

const snippetMaxChars = 300

// BuildContext concatenates result snippets in rank order, each prefixed with
// its citation marker, stopping before the context would exceed maxChars.
// A snippet is never partially included: the first result that does not fit
// is excluded along with every lower-ranked one, though all results remain in
// the citation list with Included reporting whether they made the cut.
// Confidence is the mean of the included results' scores, clamped to [0,1];
// an empty result set yields confidence 0 and an empty context.
func BuildContext(results []RankedResult, maxChars int) (string, []Citation, float64) {
	var b strings.Builder
	citations := make([]Citation, 0, len(results))

	included := 0
	fits := true
	var scoreSum float64

	for i, r := range results {
		block := fmt.Sprintf("[%d] %s", i+1, r.Snippet)
		sep := ""
		if b.Len() > 0 {
			sep = "\n\n"
		}

		addedThis := false
		if fits && b.Len()+len(sep)+len(block) <= maxChars {
			b.WriteString(sep)
			b.WriteString(block)
			included++
			scoreSum += r.RerankScore
			addedThis = true
		} else {
			fits = false
		}

		citations = append(citations, Citation{
			Marker:      i + 1,
			Title:       r.Title,
			URL:         r.URL,
			Site:        r.Site,
			PublishedAt: r.PublishedAt,
			Included:    addedThis,
		})
	}

	confidence := 0.0
	if included > 0 {
		confidence = clamp01(scoreSum / float64(included))
	}

	return b.String(), citations, confidence
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ExtractSnippet picks the window of the chunk with the highest density of
// query terms. When no term matches, the chunk's leading characters are used.
func ExtractSnippet(content, query string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = snippetMaxChars
	}
	runes := []rune(content)
	if len(runes) <= maxChars {
		return strings.TrimSpace(content)
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return strings.TrimSpace(string(runes[:maxChars]))
	}

	step := maxChars / 2
	bestStart, bestCount := 0, 0
	for start := 0; start < len(runes); start += step {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		window := strings.ToLower(string(runes[start:end]))
		count := 0
		for _, t := range terms {
			count += strings.Count(window, t)
		}
		if count > bestCount {
			bestStart, bestCount = start, count
		}
		if end == len(runes) {
			break
		}
	}

	end := bestStart + maxChars
	if end > len(runes) {
		end = len(runes)
	}
	return strings.TrimSpace(string(runes[bestStart:end]))
}

func queryTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, `.,;:!?"'()[]{}`)
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}
