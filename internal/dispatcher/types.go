// Package dispatcher is the crawl dispatcher (C4): the HTTP entry point
// that turns a batch crawl request into one Crawl message per resolved
// spider config, opened under a single CrawlJob.
package dispatcher

// Request is the POST /crawl request body.
type Request struct {
	Cities      any    `json:"cities"` // []string or the literal "all"
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
	ScopeFilter string `json:"scopeFilter,omitempty"` // "city" | "state"
}

// Response is the POST /crawl response body.
type Response struct {
	Success       bool     `json:"success"`
	TasksEnqueued int      `json:"tasksEnqueued"`
	Cities        []string `json:"cities"`
	CrawlJobID    string   `json:"crawlJobId,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// defaultLookbackDays is the window used when startDate/endDate are both
// omitted.
const defaultLookbackDays = 30

const dateLayout = "2006-01-02"
