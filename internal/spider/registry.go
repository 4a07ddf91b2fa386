package spider

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"
)

//go:embed catalog/*.json
var catalogFiles embed.FS

// constructors maps spider_type to the function that builds a Spider from
// a catalog entry.
var constructors = map[string]Constructor{
	"city_listing":  newCityListingSpider,
	"state_listing": newStateListingSpider,
}

// Registry is the read-only, process-lifetime set of spider configs loaded
// from the embedded catalogs, and the lookup from spider_type to
// constructor.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
	byCity  map[string][]string // territory_id -> config ids
	byState map[string][]string // state_code -> config ids of its city-scope spiders
	allIDs  []string
}

// NewRegistry loads every catalog/*.json file embedded at build time.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		configs: make(map[string]Config),
		byCity:  make(map[string][]string),
		byState: make(map[string][]string),
	}

	entries, err := catalogFiles.ReadDir("catalog")
	if err != nil {
		return nil, fmt.Errorf("spider: read catalog dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := catalogFiles.ReadFile("catalog/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("spider: read %s: %w", e.Name(), err)
		}
		var batch []Config
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("spider: parse %s: %w", e.Name(), err)
		}
		for _, cfg := range batch {
			if _, ok := constructors[cfg.SpiderType]; !ok {
				return nil, fmt.Errorf("spider: catalog %s: unknown spider_type %q for %s", e.Name(), cfg.SpiderType, cfg.ID)
			}
			r.configs[cfg.ID] = cfg
			r.byCity[cfg.TerritoryID] = append(r.byCity[cfg.TerritoryID], cfg.ID)
			if cfg.GazetteScope == ScopeCity {
				r.byState[cfg.StateCode] = append(r.byState[cfg.StateCode], cfg.ID)
			}
			r.allIDs = append(r.allIDs, cfg.ID)
		}
	}
	return r, nil
}

// Get returns the config registered under id.
func (r *Registry) Get(id string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	return cfg, ok
}

// Resolve returns the configs for the given territory ids, or every
// registered config when ids is nil (dispatcher's "all" selector).
// scopeFilter, if non-empty, additionally restricts the result to that
// scope.
func (r *Registry) Resolve(territoryIDs []string, scopeFilter Scope) []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	if territoryIDs == nil {
		ids = r.allIDs
	} else {
		for _, t := range territoryIDs {
			ids = append(ids, r.byCity[t]...)
		}
	}

	out := make([]Config, 0, len(ids))
	for _, id := range ids {
		cfg := r.configs[id]
		if scopeFilter != "" && cfg.GazetteScope != scopeFilter {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

// CitiesInState returns the city-scope configs whose state_code matches a
// state-scope spider's territory_id, the territory list used when
// splitting a state-level gazette across its cities.
func (r *Registry) CitiesInState(stateCode string) []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byState[stateCode]
	out := make([]Config, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.configs[id])
	}
	return out
}

// New instantiates the spider named by cfg.SpiderType.
func New(cfg Config) (Spider, error) {
	ctor, ok := constructors[cfg.SpiderType]
	if !ok {
		return nil, fmt.Errorf("spider: unknown spider_type %q", cfg.SpiderType)
	}
	return ctor(cfg)
}
