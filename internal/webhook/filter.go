package webhook

import (
	"github.com/qcx/diario-pipeline/internal/messages"
)

// Matches reports whether payload satisfies every filter configured on
// sub. An empty filter field imposes no constraint: a subscription with
// no categories, keywords, minimum confidence, territory/spider filters,
// or concurso requirement matches everything.
func Matches(sub Subscription, payload messages.AnalysisCallback) bool {
	f := sub.Filters

	if len(f.Categories) > 0 && !anyIntersect(f.Categories, payload.Categories) {
		return false
	}
	if len(f.Keywords) > 0 && !anyIntersect(f.Keywords, payload.Keywords) {
		return false
	}
	if len(f.TerritoryIDs) > 0 && !contains(f.TerritoryIDs, payload.TerritoryID) {
		return false
	}
	if len(f.SpiderIDs) > 0 && !contains(f.SpiderIDs, payload.SpiderID) {
		return false
	}
	if f.MinConfidence > 0 && payload.HighConfidenceFindings == 0 {
		return false
	}
	if f.ConcursoRequired && !contains(payload.Categories, "concurso") {
		return false
	}
	return true
}

// DetermineEvent picks the webhook event name for payload: one of
// gazette.analyzed, concurso.detected, or licitacao.detected. Concurso
// takes priority over licitação when a document matches both.
func DetermineEvent(payload messages.AnalysisCallback) string {
	if contains(payload.Categories, "concurso") {
		return EventConcursoDetected
	}
	if contains(payload.Categories, "licitacao") {
		return EventLicitacaoDetected
	}
	return EventGazetteAnalyzed
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func anyIntersect(filter, have []string) bool {
	for _, f := range filter {
		if contains(have, f) {
			return true
		}
	}
	return false
}
