package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityAnalyzer_ExtractsAllCategories(t *testing.T) {
	a := NewEntityAnalyzer("entity", 1)
	text := "O servidor de CPF 123.456.789-00, representante da empresa de CNPJ 12.345.678/0001-90, " +
		"recebeu o valor de R$ 1.250,00 em 15/03/2026."

	findings, err := a.Analyze(context.Background(), text, NewContext())
	require.NoError(t, err)
	require.Len(t, findings, 4)

	var types []string
	for _, f := range findings {
		for k := range f.Data {
			types = append(types, k)
		}
	}
	assert.Contains(t, types, "cpf")
	assert.Contains(t, types, "cnpj")
	assert.Contains(t, types, "money")
	assert.Contains(t, types, "date")
}

func TestEntityAnalyzer_NoEntitiesReturnsNilNoError(t *testing.T) {
	a := NewEntityAnalyzer("entity", 1)
	findings, err := a.Analyze(context.Background(), "texto sem nenhuma entidade relevante.", NewContext())
	require.NoError(t, err)
	assert.Empty(t, findings)
}
