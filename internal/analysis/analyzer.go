package analysis

import "context"

// Analyzer is the pluggable unit of work in the analysis pipeline.
// Phase A analyzers (keyword/concurso/entity) see the raw
// OCR text and the analysisCtx absorbed so far from earlier Phase A
// analyzers' findings (empty for the first); Phase B analyzers (ai) see
// the same text plus analysisCtx absorbed with all of Phase A's findings.
type Analyzer interface {
	ID() string
	Type() string
	Priority() float64
	Analyze(ctx context.Context, text string, analysisCtx *Context) ([]Finding, error)
}

// byPriority sorts analyzers ascending by Priority, the pipeline's fixed
// execution order within each phase.
type byPriority []Analyzer

func (b byPriority) Len() int           { return len(b) }
func (b byPriority) Less(i, j int) bool { return b[i].Priority() < b[j].Priority() }
func (b byPriority) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
