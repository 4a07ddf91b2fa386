package analysis

import (
	"context"
	"regexp"
)

var (
	reCPF   = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`)
	reCNPJ  = regexp.MustCompile(`\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b`)
	reMoney = regexp.MustCompile(`R\$\s?[\d.,]+`)
	reDate  = regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`)
)

// EntityAnalyzer extracts structured entities (CPF, CNPJ, monetary
// values, dates) referenced by the gazette text. It never fails the
// pipeline; an entity category with zero matches is simply omitted.
type EntityAnalyzer struct {
	id       string
	priority float64
}

// NewEntityAnalyzer builds the entity extractor.
func NewEntityAnalyzer(id string, priority float64) *EntityAnalyzer {
	return &EntityAnalyzer{id: id, priority: priority}
}

func (a *EntityAnalyzer) ID() string        { return a.id }
func (a *EntityAnalyzer) Type() string      { return TypeEntity }
func (a *EntityAnalyzer) Priority() float64 { return a.priority }

func (a *EntityAnalyzer) Analyze(ctx context.Context, text string, analysisCtx *Context) ([]Finding, error) {
	var findings []Finding

	extract := func(entityType string, re *regexp.Regexp, confidence float64) {
		for _, m := range re.FindAllStringIndex(text, -1) {
			pos := m[0]
			findings = append(findings, Finding{
				Type:       TypeEntity,
				Confidence: confidence,
				Data: map[string]any{
					entityType: text[m[0]:m[1]],
				},
				Position: &pos,
			})
		}
	}

	extract("cpf", reCPF, 0.95)
	extract("cnpj", reCNPJ, 0.95)
	extract("money", reMoney, 0.7)
	extract("date", reDate, 0.9)

	return findings, nil
}
