package spider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/qcx/diario-pipeline/internal/registry"
	"github.com/qcx/diario-pipeline/pkg/logger"
)

// cityListingEdition is one entry in a city portal's paginated edition list.
type cityListingEdition struct {
	ID          int64  `json:"id"`
	EditionNo   string `json:"edition_number"`
	PublishedAt string `json:"published_at"`
	Extra       bool   `json:"is_extra"`
	Power       string `json:"power"`
}

type cityListingPage struct {
	Editions []cityListingEdition `json:"editions"`
	HasMore  bool                 `json:"has_more"`
}

// cityListingSpider crawls a single-city portal whose paginated edition
// list gives each edition's id, and whose PDF is fetched by
// base64-encoding that id into the document path. Some receiving hosts
// have been observed to change this encoding without notice.;
// the encoder is kept encapsulated here rather than inlined so a mismatch
// is a one-line fix, and every decode failure is logged instead of
// silently skipped or "corrected".
type cityListingSpider struct {
	cfg       Config
	baseURL   string
	client    *http.Client
	requests  atomic.Int32
	sleep     time.Duration
}

func newCityListingSpider(cfg Config) (Spider, error) {
	baseURL, _ := cfg.PlatformConfig["base_url"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("spider %s: city_listing requires config.base_url", cfg.ID)
	}
	return &cityListingSpider{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		sleep:   800 * time.Millisecond,
	}, nil
}

func (s *cityListingSpider) RequestCount() int {
	return int(s.requests.Load())
}

// editionDocumentURL reproduces the portal's own PDF addressing scheme:
// the numeric edition id, base64-encoded, spliced into a fixed path.
func (s *cityListingSpider) editionDocumentURL(id int64) string {
	encoded := base64.URLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
	return fmt.Sprintf("%s/documents/%s.pdf", s.baseURL, encoded)
}

func (s *cityListingSpider) Crawl(ctx context.Context, dateRange DateRange) (<-chan registry.Candidate, <-chan error) {
	out := make(chan registry.Candidate)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		page := 1
		for {
			eds, hasMore, err := s.fetchPage(ctx, dateRange, page)
			if err != nil {
				errs <- err
				return
			}
			for _, ed := range eds {
				cand, err := s.toCandidate(ed)
				if err != nil {
					logger.Log.Warn("spider: skipping malformed edition",
						"spider_id", s.cfg.ID, "edition_id", ed.ID, "error", err)
					continue
				}
				select {
				case out <- cand:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			if !hasMore {
				return
			}
			page++

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

func (s *cityListingSpider) fetchPage(ctx context.Context, dateRange DateRange, page int) ([]cityListingEdition, bool, error) {
	url := fmt.Sprintf("%s/editions?from=%s&to=%s&page=%d",
		s.baseURL, dateRange.Start.Format("2006-01-02"), dateRange.End.Format("2006-01-02"), page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	s.requests.Add(1)

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("spider %s: unexpected status %d fetching %s", s.cfg.ID, resp.StatusCode, url)
	}

	var out cityListingPage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("spider %s: decode page: %w", s.cfg.ID, err)
	}
	return out.Editions, out.HasMore, nil
}

func (s *cityListingSpider) toCandidate(ed cityListingEdition) (registry.Candidate, error) {
	pubDate, err := time.Parse("2006-01-02", ed.PublishedAt)
	if err != nil {
		return registry.Candidate{}, fmt.Errorf("parse published_at %q: %w", ed.PublishedAt, err)
	}
	power := registry.PowerExecutive
	if ed.Power != "" {
		power = registry.Power(ed.Power)
	}
	return registry.Candidate{
		TerritoryID:     s.cfg.TerritoryID,
		PDFURL:          s.editionDocumentURL(ed.ID),
		PublicationDate: pubDate,
		EditionNumber:   ed.EditionNo,
		IsExtraEdition:  ed.Extra,
		Power:           power,
	}, nil
}
