// Package spider is the pluggable crawler layer (external contract of C5):
// one Spider implementation per site platform, instantiated by spider_type
// from a read-only catalog loaded once at process start.
package spider

import (
	"context"
	"time"

	"github.com/qcx/diario-pipeline/internal/registry"
)

// Scope distinguishes spiders whose gazettes belong to a single city from
// those whose gazettes must be split per territory downstream.
type Scope string

const (
	ScopeCity  Scope = "city"
	ScopeState Scope = "state"
)

// Config is a read-only catalog entry.
// PlatformConfig holds the fields specific to spider_type; it is a tagged
// union in the JSON catalogs (only the fields the named type understands
// are populated) and is passed through to the spider constructor verbatim.
type Config struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	CityName       string         `json:"city_name,omitempty"` // bare city name, for the state-level paragraph filter
	TerritoryID    string         `json:"territory_id"`
	StateCode      string         `json:"state_code"`
	SpiderType     string         `json:"spider_type"`
	GazetteScope   Scope          `json:"gazette_scope"`
	PlatformConfig map[string]any `json:"config"`
}

// DateRange bounds a crawl, inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Spider is the external contract every site-specific crawler implements.
// Crawl streams gazettes as they're discovered so the caller can enqueue
// downstream work without waiting for the whole date range to finish;
// RequestCount reports how many outbound HTTP calls the run made, for
// telemetry.
type Spider interface {
	Crawl(ctx context.Context, dateRange DateRange) (<-chan registry.Candidate, <-chan error)
	RequestCount() int
}

// Constructor builds a Spider from its catalog config.
type Constructor func(cfg Config) (Spider, error)
