package registry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/httpclient"
)

// ErrInvalidURL is returned for blank, malformed, or non-http(s) URLs.
var ErrInvalidURL = errors.New("registry: invalid pdf url")

// ErrPrivateAddress is returned when resolution lands on a loopback,
// private, or link-local address - fatal for that row.
var ErrPrivateAddress = errors.New("registry: private or local address")

// ErrTooManyRedirects is returned when the redirect chain exceeds
// max_redirects.
var ErrTooManyRedirects = errors.New("registry: too many redirects")

var metaRefreshPattern = regexp.MustCompile(`(?is)<meta[^>]+http-equiv\s*=\s*["']?refresh["']?[^>]*content\s*=\s*(?:"([^"]*)"|'([^']*)')`)
var metaRefreshURLPattern = regexp.MustCompile(`(?i)url\s*=\s*(.+)$`)

// Resolver follows HTTP redirects and HTML meta-refresh jumps to arrive
// at the canonical URL a gazette is stored under. Transient network
// errors and 5xx/429 responses on a hop are retried with exponential
// backoff via pkg/httpclient, deliberately without a circuit breaker -
// each call targets a different publisher's site, so one gazette's
// failures shouldn't trip a breaker that then rejects another's.
type Resolver struct {
	http              *httpclient.Client
	maxRedirects      int
	hopTimeout        time.Duration
	metaRefreshPeekKB int
}

// NewResolver builds a Resolver from OCR config (max_redirects,
// redirect_hop_timeout, and meta_refresh_peek_kb are shared with the OCR
// stage's own URL handling) and the pipeline-wide retry policy.
func NewResolver(cfg *config.OCRConfig, retry config.RetryConfig) *Resolver {
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	hopTimeout := cfg.RedirectHopTimeout
	if hopTimeout <= 0 {
		hopTimeout = 15 * time.Second
	}
	peekKB := cfg.MetaRefreshPeekKB
	if peekKB <= 0 {
		peekKB = 50
	}

	hc := httpclient.New(
		retry,
		// Redirects are followed manually so each hop can be
		// validated and timed individually.
		httpclient.WithCheckRedirect(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}),
	)

	return &Resolver{
		http:              hc,
		maxRedirects:      maxRedirects,
		hopTimeout:        hopTimeout,
		metaRefreshPeekKB: peekKB,
	}
}

// Resolve follows redirects and meta-refresh jumps from rawURL, returning
// the final canonical URL.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	current, err := validateURL(rawURL)
	if err != nil {
		return "", err
	}

	for hop := 0; hop < r.maxRedirects; hop++ {
		if err := checkNotPrivate(current); err != nil {
			return "", err
		}

		next, isFinal, err := r.fetchOneHop(ctx, current)
		if err != nil {
			return "", err
		}
		if isFinal {
			return current, nil
		}
		current = next
	}

	return "", ErrTooManyRedirects
}

// fetchOneHop issues one request (HEAD, falling back to a ranged GET on
// 405/501), plus a plain GET when the answer is an HTML page so its body
// can be peeked for a meta-refresh, and returns the next URL to follow, or
// signals isFinal when there is nothing further to chase (2xx with no
// meta-refresh).
func (r *Resolver) fetchOneHop(ctx context.Context, current string) (next string, isFinal bool, err error) {
	hopCtx, cancel := context.WithTimeout(ctx, r.hopTimeout)
	defer cancel()

	resp, err := r.http.Do(hopCtx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodHead, current, nil)
	})
	if err != nil {
		return "", false, fmt.Errorf("registry: head %s: %w", current, err)
	}

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp.Body.Close()
		resp, err = r.rangedGet(hopCtx, current)
		if err != nil {
			return "", false, err
		}
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); isRedirectStatus(resp.StatusCode) && loc != "" {
		resolved, err := resolveAgainst(current, loc)
		if err != nil {
			return "", false, err
		}
		return resolved, false, nil
	}

	if contentType := resp.Header.Get("Content-Type"); strings.Contains(contentType, "text/html") {
		page, err := r.http.Do(hopCtx, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		})
		if err != nil {
			return "", false, fmt.Errorf("registry: get %s: %w", current, err)
		}
		defer page.Body.Close()
		peeked := peekBody(page.Body, r.metaRefreshPeekKB)
		if target, ok := extractMetaRefresh(peeked); ok {
			resolved, err := resolveAgainst(current, target)
			if err != nil {
				return "", false, err
			}
			return resolved, false, nil
		}
	}

	return "", true, nil
}

func (r *Resolver) rangedGet(ctx context.Context, current string) (*http.Response, error) {
	resp, err := r.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", "bytes=0-0")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: ranged get %s: %w", current, err)
	}
	return resp, nil
}

func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func resolveAgainst(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

func peekBody(body io.Reader, peekKB int) []byte {
	limited := io.LimitReader(body, int64(peekKB)*1024)
	buf, _ := io.ReadAll(bufio.NewReader(limited))
	return buf
}

func extractMetaRefresh(html []byte) (string, bool) {
	m := metaRefreshPattern.FindSubmatch(html)
	if m == nil {
		return "", false
	}
	content := string(m[1])
	if content == "" {
		content = string(m[2])
	}
	urlMatch := metaRefreshURLPattern.FindStringSubmatch(content)
	if urlMatch == nil {
		return "", false
	}
	target := strings.Trim(strings.TrimSpace(urlMatch[1]), `"'`)
	if target == "" {
		return "", false
	}
	return target, true
}

func validateURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", ErrInvalidURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", ErrInvalidURL
	}
	if parsed.Host == "" {
		return "", ErrInvalidURL
	}
	return trimmed, nil
}

func checkNotPrivate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	host := parsed.Hostname()
	if strings.EqualFold(host, "localhost") {
		return ErrPrivateAddress
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable host is a transient/network failure, not a
		// private-address violation; let the caller's HTTP attempt
		// surface the real error.
		return nil
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return ErrPrivateAddress
		}
	}
	return nil
}
