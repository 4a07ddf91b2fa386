// Package analysis is the deduplicated analysis orchestrator (C3/C7):
// composition of pattern, entity, domain-specific ("concurso"), and AI
// analyzers keyed by a configuration signature, with a state-level
// territory split via keyword/proximity paragraph filtering.
package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/qcx/diario-pipeline/pkg/cache"
)

// Analyzer types.
const (
	TypeKeyword  = "keyword"
	TypeConcurso = "concurso"
	TypeEntity   = "entity"
	TypeAI       = "ai"
)

// HighConfidenceThreshold is the high-confidence cutoff. It is a fixed
// constant: config.AnalysisConfig.HighConfidenceThreshold is not read by
// this package.
const HighConfidenceThreshold = 0.8

// Finding is one analyzer observation.
type Finding struct {
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data,omitempty"`
	Context    string         `json:"context,omitempty"`
	Position   *int           `json:"position,omitempty"`
}

// IsHighConfidence reports whether f clears the high-confidence bar.
func (f Finding) IsHighConfidence() bool {
	return f.Confidence >= HighConfidenceThreshold
}

// Context accumulates Phase A (keyword/concurso/entity) output so Phase B
// (AI) analyzers receive structured priors instead of raw text alone.
type Context struct {
	DocumentTypes  map[string]float64 // documentType -> best confidence seen
	Categories     map[string]bool
	HighConfidence []Finding
	Entities       map[string][]string // entity type -> values
}

// NewContext returns an empty analysis context.
func NewContext() *Context {
	return &Context{
		DocumentTypes: make(map[string]float64),
		Categories:    make(map[string]bool),
		Entities:      make(map[string][]string),
	}
}

// Absorb folds findings from one Phase A analyzer into the context.
func (c *Context) Absorb(findings []Finding) {
	for _, f := range findings {
		if f.IsHighConfidence() {
			c.HighConfidence = append(c.HighConfidence, f)
		}
		if dt, ok := f.Data["documentType"].(string); ok {
			if f.Confidence > c.DocumentTypes[dt] {
				c.DocumentTypes[dt] = f.Confidence
			}
		}
		if cat, ok := f.Data["category"].(string); ok {
			c.Categories[cat] = true
		}
		if cats, ok := f.Data["category"].([]string); ok {
			for _, cat := range cats {
				c.Categories[cat] = true
			}
		}
		for _, entType := range []string{"cpf", "cnpj", "money", "date"} {
			if v, ok := f.Data[entType].(string); ok && v != "" {
				c.Entities[entType] = append(c.Entities[entType], v)
			}
		}
	}
}

// PrimaryDocumentType returns the document type with the highest observed
// confidence, or "" if none was detected.
func (c *Context) PrimaryDocumentType() string {
	best, bestConf := "", 0.0
	for dt, conf := range c.DocumentTypes {
		if conf > bestConf {
			best, bestConf = dt, conf
		}
	}
	return best
}

// SortedCategories returns the observed categories, alphabetically.
func (c *Context) SortedCategories() []string {
	out := make([]string, 0, len(c.Categories))
	for cat := range c.Categories {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// Result is one AnalysisResult row.
type Result struct {
	AnalysisID             string
	JobID                  string
	TerritoryID            string
	GazetteID              string
	ConfigHash             string
	CityFilter             string
	PublicationDate        time.Time
	TotalFindings          int
	HighConfidenceFindings int
	Categories             []string
	Keywords               []string
	Findings               []Finding
	Summary                map[string]any
	Metadata               map[string]any
	AnalyzedAt             time.Time
}

// Signature is the stable input composed into the config hash:
// `{version, enabled_analyzers (sorted), custom_keywords (sorted),
// territory_id}`.
type Signature struct {
	Version          string
	EnabledAnalyzers []string
	CustomKeywords   []string
	TerritoryID      string
}

// Hash computes the 32-char configHash.
func (s Signature) Hash() string {
	analyzers := append([]string(nil), s.EnabledAnalyzers...)
	sort.Strings(analyzers)
	keywords := append([]string(nil), s.CustomKeywords...)
	sort.Strings(keywords)

	canonical := fmt.Sprintf("%s|%s|%s|%s",
		s.Version, strings.Join(analyzers, ","), strings.Join(keywords, ","), s.TerritoryID)
	return cache.TruncatedHash([]byte(canonical), 32)
}

// JobID computes the deterministic analysis job id.:
// "analysis-" + shortHash16(territory:gazette:configHash).
func JobID(territoryID, gazetteID, configHash string) string {
	seed := fmt.Sprintf("%s:%s:%s", territoryID, gazetteID, configHash)
	return "analysis-" + cache.ShortHash([]byte(seed))
}

// cacheKey is the analysis KV cache key.
func cacheKey(territoryID, gazetteID, configHash, cityFilter string) string {
	return cache.NamespacedKey("analysis:dedup", territoryID, gazetteID, configHash, cityFilter)
}
