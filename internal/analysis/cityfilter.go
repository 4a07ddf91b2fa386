package analysis

import (
	"regexp"
	"strings"
)

// paragraphBoundary splits a state gazette into paragraphs on blank lines
// or a legal-section marker starting a line.
var paragraphBoundary = regexp.MustCompile(`\n\s*\n|\n[ \t]*(?:Art\.|CAPÍTULO|SEÇÃO|TÍTULO|ANEXO)`)

// SplitParagraphs breaks text into paragraphs for the city filter. A
// legal-section marker stays at the start of the paragraph it opens.
func SplitParagraphs(text string) []string {
	var raw []string
	prev := 0
	for _, m := range paragraphBoundary.FindAllStringIndex(text, -1) {
		raw = append(raw, text[prev:m[0]])
		if strings.TrimSpace(text[m[0]:m[1]]) == "" {
			prev = m[1]
		} else {
			prev = m[0] + 1
		}
	}
	raw = append(raw, text[prev:])
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// CityRegex builds the case-insensitive whole-word pattern a state
// gazette's paragraphs are matched against for a given city name.
func CityRegex(cityName string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(cityName) + `\b`)
}

// CityFilterResult is the outcome of filtering a state gazette down to
// one city's paragraphs.
type CityFilterResult struct {
	FilteredText        string
	OriginalTextLength  int
	FilteredTextLength  int
	Matched             bool
}

// FilterByCity extracts every paragraph matching cityRegex, plus one
// paragraph of surrounding context on each side, and joins the (deduped,
// order-preserving) result back together. Matched is false when no
// paragraph matches, in which case the caller skips the territory.
func FilterByCity(text string, cityRegex *regexp.Regexp) CityFilterResult {
	paragraphs := SplitParagraphs(text)

	include := make(map[int]bool)
	for i, p := range paragraphs {
		if cityRegex.MatchString(p) {
			include[i] = true
			if i > 0 {
				include[i-1] = true
			}
			if i < len(paragraphs)-1 {
				include[i+1] = true
			}
		}
	}

	if len(include) == 0 {
		return CityFilterResult{OriginalTextLength: len(text)}
	}

	var kept []string
	for i, p := range paragraphs {
		if include[i] {
			kept = append(kept, p)
		}
	}
	filtered := strings.Join(kept, "\n\n")

	return CityFilterResult{
		FilteredText:       filtered,
		OriginalTextLength: len(text),
		FilteredTextLength: len(filtered),
		Matched:            true,
	}
}

// cityFilterMetadata builds the metadata.territoryFilter blob attached
// to a state-level AnalysisResult.
func cityFilterMetadata(cityName string, cityRegex *regexp.Regexp, result CityFilterResult) map[string]any {
	return map[string]any{
		"cityName":           cityName,
		"cityRegex":          cityRegex.String(),
		"filteredTextLength": result.FilteredTextLength,
		"originalTextLength": result.OriginalTextLength,
	}
}
