package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	response     string
	err          error
	sawSystem    string
	sawUser      string
}

func (f *fakeCompleter) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.sawSystem = systemPrompt
	f.sawUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestAIAnalyzer_ParsesModelFindings(t *testing.T) {
	model := &fakeCompleter{response: `[{"type":"ai","confidence":0.82,"data":{"category":"licitacao","documentType":"licitacao","summary":"abertura de pregão"}}]`}
	a := NewAIAnalyzer("ai", 1, model)

	findings, err := a.Analyze(context.Background(), "texto do diário", NewContext())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 0.82, findings[0].Confidence)
	assert.Equal(t, "licitacao", findings[0].Data["category"])
}

func TestAIAnalyzer_EmptyArrayIsNoFindings(t *testing.T) {
	model := &fakeCompleter{response: `[]`}
	a := NewAIAnalyzer("ai", 1, model)

	findings, err := a.Analyze(context.Background(), "texto", NewContext())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestAIAnalyzer_ModelErrorIsSoftFailure(t *testing.T) {
	model := &fakeCompleter{err: errors.New("endpoint unavailable")}
	a := NewAIAnalyzer("ai", 1, model)

	findings, err := a.Analyze(context.Background(), "texto", NewContext())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "failure", findings[0].Data["status"])
}

func TestAIAnalyzer_UnparseableResponseIsSoftFailure(t *testing.T) {
	model := &fakeCompleter{response: "not json at all"}
	a := NewAIAnalyzer("ai", 1, model)

	findings, err := a.Analyze(context.Background(), "texto", NewContext())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "failure", findings[0].Data["status"])
}

func TestAIAnalyzer_PromptIncludesPhaseAContext(t *testing.T) {
	model := &fakeCompleter{response: `[]`}
	a := NewAIAnalyzer("ai", 1, model)

	ctx := NewContext()
	ctx.Absorb([]Finding{{Type: TypeKeyword, Confidence: 0.75, Data: map[string]any{"documentType": "licitacao", "category": "licitacao"}}})

	_, err := a.Analyze(context.Background(), "excerto do diário", ctx)
	require.NoError(t, err)
	assert.True(t, strings.Contains(model.sawUser, "licitacao"))
	assert.True(t, strings.Contains(model.sawUser, "excerto do diário"))
}
