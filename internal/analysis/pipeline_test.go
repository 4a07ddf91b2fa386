package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalyzer struct {
	id        string
	typ       string
	priority  float64
	findings  []Finding
	err       error
	sawCtx    *Context
}

func (s *stubAnalyzer) ID() string        { return s.id }
func (s *stubAnalyzer) Type() string      { return s.typ }
func (s *stubAnalyzer) Priority() float64 { return s.priority }
func (s *stubAnalyzer) Analyze(ctx context.Context, text string, analysisCtx *Context) ([]Finding, error) {
	s.sawCtx = analysisCtx
	if s.err != nil {
		return nil, s.err
	}
	return s.findings, nil
}

func TestPipeline_RunsPhaseABeforePhaseB(t *testing.T) {
	a := &stubAnalyzer{id: "kw", typ: TypeKeyword, priority: 1, findings: []Finding{
		{Type: TypeKeyword, Confidence: 0.9, Data: map[string]any{"documentType": "licitacao", "category": "licitacao"}},
	}}
	b := &stubAnalyzer{id: "ai", typ: TypeAI, priority: 1}

	p := NewPipeline([]Analyzer{b, a})
	findings, ctx := p.Run(context.Background(), "some text")

	require.Len(t, findings, 1)
	assert.Equal(t, "licitacao", ctx.PrimaryDocumentType())
	require.NotNil(t, b.sawCtx)
	assert.Equal(t, "licitacao", b.sawCtx.PrimaryDocumentType())
}

func TestPipeline_AnalyzerErrorProducesFailureFindingNotAbort(t *testing.T) {
	failing := &stubAnalyzer{id: "broken", typ: TypeKeyword, priority: 1, err: errors.New("boom")}
	ok := &stubAnalyzer{id: "kw", typ: TypeKeyword, priority: 2, findings: []Finding{{Type: TypeKeyword, Confidence: 0.5}}}

	p := NewPipeline([]Analyzer{failing, ok})
	findings, _ := p.Run(context.Background(), "text")

	require.Len(t, findings, 2)
	assert.Equal(t, "failure", findings[0].Data["status"])
}

func TestSignature_HashIsOrderIndependent(t *testing.T) {
	a := Signature{Version: "1", EnabledAnalyzers: []string{"ai", "keyword"}, CustomKeywords: []string{"b", "a"}, TerritoryID: "t1"}
	b := Signature{Version: "1", EnabledAnalyzers: []string{"keyword", "ai"}, CustomKeywords: []string{"a", "b"}, TerritoryID: "t1"}
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 32)
}

func TestJobID_IsDeterministic(t *testing.T) {
	id1 := JobID("t1", "g1", "hash1")
	id2 := JobID("t1", "g1", "hash1")
	id3 := JobID("t1", "g2", "hash1")
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Contains(t, id1, "analysis-")
}
