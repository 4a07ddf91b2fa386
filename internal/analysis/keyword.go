package analysis

import (
	"context"
	"strings"
)

// KeywordRule maps a single keyword (or phrase) to the document category
// and type it implies when found.
type KeywordRule struct {
	Keyword      string
	Category     string
	DocumentType string
	Confidence   float64
}

// DefaultKeywordRules is the built-in rule set for the "licitacao" and
// general-notice categories; concurso detection has its own analyzer
// (ConcursoAnalyzer) because it needs proximity reasoning, not a flat scan.
var DefaultKeywordRules = []KeywordRule{
	{Keyword: "licitação", Category: "licitacao", DocumentType: "licitacao", Confidence: 0.75},
	{Keyword: "pregão eletrônico", Category: "licitacao", DocumentType: "licitacao", Confidence: 0.8},
	{Keyword: "dispensa de licitação", Category: "licitacao", DocumentType: "licitacao", Confidence: 0.8},
	{Keyword: "contrato administrativo", Category: "contrato", DocumentType: "contrato", Confidence: 0.6},
	{Keyword: "decreto", Category: "normativo", DocumentType: "decreto", Confidence: 0.5},
	{Keyword: "portaria", Category: "normativo", DocumentType: "portaria", Confidence: 0.5},
}

// KeywordAnalyzer is a flat keyword-to-category scan, the simplest Phase A
// analyzer.
type KeywordAnalyzer struct {
	id       string
	priority float64
	rules    []KeywordRule
	extra    []string // config.AnalysisConfig.CustomKeywords, category "custom"
}

// NewKeywordAnalyzer builds a keyword analyzer over rules plus any
// operator-supplied custom keywords.
func NewKeywordAnalyzer(id string, priority float64, rules []KeywordRule, customKeywords []string) *KeywordAnalyzer {
	return &KeywordAnalyzer{id: id, priority: priority, rules: rules, extra: customKeywords}
}

func (a *KeywordAnalyzer) ID() string       { return a.id }
func (a *KeywordAnalyzer) Type() string     { return TypeKeyword }
func (a *KeywordAnalyzer) Priority() float64 { return a.priority }

func (a *KeywordAnalyzer) Analyze(ctx context.Context, text string, analysisCtx *Context) ([]Finding, error) {
	lower := strings.ToLower(text)
	var findings []Finding

	for _, rule := range a.rules {
		pos := strings.Index(lower, strings.ToLower(rule.Keyword))
		if pos < 0 {
			continue
		}
		p := pos
		findings = append(findings, Finding{
			Type:       TypeKeyword,
			Confidence: rule.Confidence,
			Data: map[string]any{
				"keyword":      rule.Keyword,
				"category":     rule.Category,
				"documentType": rule.DocumentType,
			},
			Position: &p,
		})
	}

	for _, kw := range a.extra {
		pos := strings.Index(lower, strings.ToLower(kw))
		if pos < 0 {
			continue
		}
		p := pos
		findings = append(findings, Finding{
			Type:       TypeKeyword,
			Confidence: 0.6,
			Data: map[string]any{
				"keyword":  kw,
				"category": "custom",
			},
			Position: &p,
		})
	}

	return findings, nil
}
