package dispatcher

import (
	"fmt"
	"time"

	"github.com/qcx/diario-pipeline/internal/spider"
)

// parseCities normalizes the request's cities field: the literal "all"
// (or an absent field) resolves to every registered spider; otherwise it
// must be a JSON array of territory ids.
func parseCities(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok {
		if s == "all" {
			return nil, nil
		}
		return nil, fmt.Errorf("cities: unexpected string %q, want \"all\" or an array of ids", s)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("cities: must be \"all\" or an array of territory ids")
	}
	ids := make([]string, 0, len(list))
	for _, v := range list {
		id, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("cities: array elements must be strings")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseScope(raw string) (spider.Scope, error) {
	switch raw {
	case "":
		return "", nil
	case string(spider.ScopeCity):
		return spider.ScopeCity, nil
	case string(spider.ScopeState):
		return spider.ScopeState, nil
	default:
		return "", fmt.Errorf("scopeFilter: must be %q or %q", spider.ScopeCity, spider.ScopeState)
	}
}

// parseDateRange defaults to the last 30 days ending today when both
// bounds are omitted.
func parseDateRange(startRaw, endRaw string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	end := now
	start := now.AddDate(0, 0, -defaultLookbackDays)

	if endRaw != "" {
		parsed, err := time.Parse(dateLayout, endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("endDate: %w", err)
		}
		end = parsed
	}
	if startRaw != "" {
		parsed, err := time.Parse(dateLayout, startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("startDate: %w", err)
		}
		start = parsed
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("startDate must not be after endDate")
	}
	return start, end, nil
}
