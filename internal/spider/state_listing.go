package spider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/qcx/diario-pipeline/internal/registry"
)

// stateListingEntry is one edition in a state portal's date-indexed
// gazette list. A single edition bundles publications from many cities;
// splitting by city happens downstream in the analysis stage, not here —
// the spider just yields one Candidate per edition, tagged with the
// state's own territory id.
type stateListingEntry struct {
	DocumentURL string `json:"document_url"`
	Date        string `json:"date"`
	EditionNo   string `json:"edition_number"`
	Extra       bool   `json:"is_extra"`
}

type stateListingResponse struct {
	Entries []stateListingEntry `json:"entries"`
}

// stateListingSpider crawls a state-wide portal, one HTTP call per day in
// the requested range.
type stateListingSpider struct {
	cfg      Config
	baseURL  string
	client   *http.Client
	requests atomic.Int32
	sleep    time.Duration
}

func newStateListingSpider(cfg Config) (Spider, error) {
	baseURL, _ := cfg.PlatformConfig["base_url"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("spider %s: state_listing requires config.base_url", cfg.ID)
	}
	return &stateListingSpider{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		sleep:   1000 * time.Millisecond,
	}, nil
}

func (s *stateListingSpider) RequestCount() int {
	return int(s.requests.Load())
}

func (s *stateListingSpider) Crawl(ctx context.Context, dateRange DateRange) (<-chan registry.Candidate, <-chan error) {
	out := make(chan registry.Candidate)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		for d := dateRange.Start; !d.After(dateRange.End); d = d.AddDate(0, 0, 1) {
			entries, err := s.fetchDay(ctx, d)
			if err != nil {
				errs <- err
				return
			}
			for _, e := range entries {
				select {
				case out <- registry.Candidate{
					TerritoryID:     s.cfg.TerritoryID,
					PDFURL:          e.DocumentURL,
					PublicationDate: d,
					EditionNumber:   e.EditionNo,
					IsExtraEdition:  e.Extra,
					Power:           registry.PowerExecutiveLegislative,
				}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}

			select {
			case <-time.After(s.sleep):
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return out, errs
}

func (s *stateListingSpider) fetchDay(ctx context.Context, day time.Time) ([]stateListingEntry, error) {
	url := fmt.Sprintf("%s/gazettes?date=%s", s.baseURL, day.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	s.requests.Add(1)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spider %s: unexpected status %d fetching %s", s.cfg.ID, resp.StatusCode, url)
	}

	var out stateListingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("spider %s: decode day: %w", s.cfg.ID, err)
	}
	return out.Entries, nil
}
