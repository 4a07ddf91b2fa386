package analysis

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// concursoKeywords are the domain terms whose proximity to one another
// signals a recruitment-process document. They are matched
// case-insensitively against the raw text;
// Portuguese diacritics are kept as-is rather than folded, since the
// source documents are consistently accented.
var concursoKeywords = []string{"convocação", "candidatos", "aprovados", "apresentação"}

// title patterns. A numbered "ª CONVOCAÇÃO" (e.g. "17ª CONVOCAÇÃO") names
// the document directly; "EDITAL DE ABERTURA" is the distinct opening
// announcement of a concurso rather than a convocação of the approved.
var (
	reConvocacaoTitle = regexp.MustCompile(`(?i)\d+\s*ª\s*CONVOCA[ÇC][ÃA]O`)
	reEditalAbertura  = regexp.MustCompile(`(?i)EDITAL\s+DE\s+ABERTURA`)
)

// ConcursoAnalyzer detects recruitment-process ("concurso") documents by
// title pattern and by proximity clustering of a small keyword set,
// deliberately NOT by a flat keyword scan — scattered keyword mentions in
// unrelated sections of a gazette must not fire.
type ConcursoAnalyzer struct {
	id               string
	priority         float64
	proximityWindow  int // characters; default 100
}

// NewConcursoAnalyzer builds the detector. proximityWindow <= 0 uses the
// default of 100.
func NewConcursoAnalyzer(id string, priority float64, proximityWindow int) *ConcursoAnalyzer {
	if proximityWindow <= 0 {
		proximityWindow = 100
	}
	return &ConcursoAnalyzer{id: id, priority: priority, proximityWindow: proximityWindow}
}

func (a *ConcursoAnalyzer) ID() string        { return a.id }
func (a *ConcursoAnalyzer) Type() string      { return TypeConcurso }
func (a *ConcursoAnalyzer) Priority() float64 { return a.priority }

type keywordOccurrence struct {
	keyword string
	pos     int
}

func (a *ConcursoAnalyzer) Analyze(ctx context.Context, text string, analysisCtx *Context) ([]Finding, error) {
	lower := strings.ToLower(text)

	if reEditalAbertura.MatchString(text) {
		loc := reEditalAbertura.FindStringIndex(text)
		pos := loc[0]
		return []Finding{{
			Type:       TypeConcurso,
			Confidence: 0.85,
			Data: map[string]any{
				"documentType": "edital_abertura",
				"titlePattern": "EDITAL DE ABERTURA",
			},
			Context:  snippet(text, pos, 120),
			Position: &pos,
		}}, nil
	}

	titleMatch := reConvocacaoTitle.FindStringIndex(text)

	group, ok := a.bestKeywordGroup(lower)
	if titleMatch == nil && !ok {
		return nil, nil
	}

	if titleMatch != nil {
		pos := titleMatch[0]
		confidence := 0.80
		if ok {
			// A tight keyword cluster alongside the title pushes
			// confidence up, capped at 0.95.
			confidence += 0.15 * group.proximityScore()
			if confidence > 0.95 {
				confidence = 0.95
			}
		}
		return []Finding{{
			Type:       TypeConcurso,
			Confidence: confidence,
			Data: map[string]any{
				"documentType": "convocacao",
				"titlePattern": text[titleMatch[0]:titleMatch[1]],
			},
			Context:  snippet(text, pos, 120),
			Position: &pos,
		}}, nil
	}

	// No title pattern: confidence comes entirely from keyword
	// proximity and completeness.
	completeness := float64(group.distinctCount-1) / float64(len(concursoKeywords)-2)
	if completeness > 1 {
		completeness = 1
	}
	confidence := 0.55 + 0.15*completeness + 0.15*group.proximityScore()
	pos := group.minPos
	return []Finding{{
		Type:       TypeConcurso,
		Confidence: confidence,
		Data: map[string]any{
			"documentType": "convocacao",
		},
		Context:  snippet(text, pos, 120),
		Position: &pos,
	}}, nil
}

type keywordGroup struct {
	distinctCount int
	minPos        int
	maxPos        int
	window        int
}

// proximityScore is 1.0 for a zero-width cluster, decaying to 0 at the
// edge of the configured window.
func (g keywordGroup) proximityScore() float64 {
	span := g.maxPos - g.minPos
	score := 1.0 - float64(span)/float64(g.window)
	if score < 0 {
		score = 0
	}
	return score
}

// bestKeywordGroup finds, among all required keyword occurrences, the
// tightest cluster containing the most distinct keywords within the
// configured proximity window. Returns ok=false if no two distinct
// keywords ever fall within the window of one another (the scattered
// case).
func (a *ConcursoAnalyzer) bestKeywordGroup(lower string) (keywordGroup, bool) {
	var occs []keywordOccurrence
	for _, kw := range concursoKeywords {
		start := 0
		for {
			idx := strings.Index(lower[start:], kw)
			if idx < 0 {
				break
			}
			occs = append(occs, keywordOccurrence{keyword: kw, pos: start + idx})
			start += idx + len(kw)
		}
	}
	if len(occs) < 2 {
		return keywordGroup{}, false
	}
	sort.Slice(occs, func(i, j int) bool { return occs[i].pos < occs[j].pos })

	best := keywordGroup{window: a.proximityWindow}
	bestSpan := a.proximityWindow + 1

	i := 0
	for j := 0; j < len(occs); j++ {
		for occs[j].pos-occs[i].pos > a.proximityWindow {
			i++
		}
		distinct := map[string]bool{}
		for k := i; k <= j; k++ {
			distinct[occs[k].keyword] = true
		}
		span := occs[j].pos - occs[i].pos
		if len(distinct) > best.distinctCount || (len(distinct) == best.distinctCount && span < bestSpan) {
			best = keywordGroup{
				distinctCount: len(distinct),
				minPos:        occs[i].pos,
				maxPos:        occs[j].pos,
				window:        a.proximityWindow,
			}
			bestSpan = span
		}
	}

	if best.distinctCount < 2 {
		return keywordGroup{}, false
	}
	return best, true
}

func snippet(text string, pos, radius int) string {
	start := pos - radius
	if start < 0 {
		start = 0
	}
	end := pos + radius
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}
