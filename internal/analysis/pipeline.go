package analysis

import (
	"context"
	"sort"
)

// Pipeline runs the configured analyzers in two phases: Phase A
// (keyword/concurso/entity) builds an analysis Context that
// Phase B (ai) consumes. Analyzers within a phase run in ascending
// priority order.
type Pipeline struct {
	phaseA []Analyzer
	phaseB []Analyzer
}

// NewPipeline partitions analyzers into Phase A/B by Type and sorts each
// phase by priority.
func NewPipeline(analyzers []Analyzer) *Pipeline {
	p := &Pipeline{}
	for _, a := range analyzers {
		if a.Type() == TypeAI {
			p.phaseB = append(p.phaseB, a)
		} else {
			p.phaseA = append(p.phaseA, a)
		}
	}
	sort.Sort(byPriority(p.phaseA))
	sort.Sort(byPriority(p.phaseB))
	return p
}

// Run executes both phases over text and returns the union of findings
// plus the Phase A context (useful for the caller building metadata).
// An individual analyzer's error produces a failure-status finding for
// that analyzer. rather than aborting
// the run.
func (p *Pipeline) Run(ctx context.Context, text string) ([]Finding, *Context) {
	analysisCtx := NewContext()
	var all []Finding

	for _, a := range p.phaseA {
		findings, err := a.Analyze(ctx, text, analysisCtx)
		if err != nil {
			all = append(all, Finding{Type: a.Type(), Confidence: 0, Data: map[string]any{"status": "failure", "analyzerId": a.ID(), "error": err.Error()}})
			continue
		}
		analysisCtx.Absorb(findings)
		all = append(all, findings...)
	}

	for _, a := range p.phaseB {
		findings, err := a.Analyze(ctx, text, analysisCtx)
		if err != nil {
			all = append(all, Finding{Type: a.Type(), Confidence: 0, Data: map[string]any{"status": "failure", "analyzerId": a.ID(), "error": err.Error()}})
			continue
		}
		all = append(all, findings...)
	}

	return all, analysisCtx
}
