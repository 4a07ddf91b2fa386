package registry

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcx/diario-pipeline/pkg/config"
)

// testResolver builds a Resolver whose Transport dials every request at
// srv regardless of host, so test URLs can use a fake, non-loopback
// hostname ("invalid" per RFC 2606 never resolves) without tripping
// checkNotPrivate on the httptest server's real loopback address.
func testResolver(srv *httptest.Server) *Resolver {
	return testResolverWithRetry(srv, config.RetryConfig{MaxAttempts: 1})
}

// testResolverWithRetry is testResolver with an explicit retry policy,
// for exercising the backoff loop itself.
func testResolverWithRetry(srv *httptest.Server, retry config.RetryConfig) *Resolver {
	r := NewResolver(&config.OCRConfig{
		MaxRedirects:       5,
		RedirectHopTimeout: 2 * time.Second,
		MetaRefreshPeekKB:  50,
	}, retry)
	addr := srv.Listener.Addr().String()
	r.http.SetTransport(&http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	})
	return r
}

const fakeHost = "gazette.invalid"

func TestResolver_Resolve_NoRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	got, err := testResolver(srv).Resolve(context.Background(), "http://"+fakeHost+"/gazette.pdf")

	require.NoError(t, err)
	assert.Equal(t, "http://"+fakeHost+"/gazette.pdf", got)
}

func TestResolver_Resolve_FollowsLocationRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/redirect":
			w.Header().Set("Location", "/final.pdf")
			w.WriteHeader(http.StatusFound)
		default:
			w.Header().Set("Content-Type", "application/pdf")
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	got, err := testResolver(srv).Resolve(context.Background(), "http://"+fakeHost+"/redirect")

	require.NoError(t, err)
	assert.Equal(t, "http://"+fakeHost+"/final.pdf", got)
}

func TestResolver_Resolve_FollowsMetaRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jump":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte(`<html><head><meta http-equiv="refresh" content="0; url=/final.pdf"></head></html>`))
			}
		default:
			w.Header().Set("Content-Type", "application/pdf")
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	got, err := testResolver(srv).Resolve(context.Background(), "http://"+fakeHost+"/jump")

	require.NoError(t, err)
	assert.Equal(t, "http://"+fakeHost+"/final.pdf", got)
}

func TestResolver_Resolve_FallsBackToRangedGetOn405(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	got, err := testResolver(srv).Resolve(context.Background(), "http://"+fakeHost+"/gazette.pdf")

	require.NoError(t, err)
	assert.Equal(t, "http://"+fakeHost+"/gazette.pdf", got)
}

func TestResolver_Resolve_RetriesTransientServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := testResolverWithRetry(srv, config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	})

	got, err := r.Resolve(context.Background(), "http://"+fakeHost+"/gazette.pdf")

	require.NoError(t, err)
	assert.Equal(t, "http://"+fakeHost+"/gazette.pdf", got)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestResolver_Resolve_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", r.URL.Path+"x")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	_, err := testResolver(srv).Resolve(context.Background(), "http://"+fakeHost+"/a")

	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestResolver_Resolve_RejectsPrivateAddress(t *testing.T) {
	r := NewResolver(&config.OCRConfig{MaxRedirects: 5, RedirectHopTimeout: time.Second, MetaRefreshPeekKB: 50}, config.RetryConfig{MaxAttempts: 1})

	_, err := r.Resolve(context.Background(), "http://localhost/gazette.pdf")

	assert.ErrorIs(t, err, ErrPrivateAddress)
}

func TestResolver_Resolve_RejectsInvalidURL(t *testing.T) {
	r := NewResolver(&config.OCRConfig{MaxRedirects: 5, RedirectHopTimeout: time.Second, MetaRefreshPeekKB: 50}, config.RetryConfig{MaxAttempts: 1})

	_, err := r.Resolve(context.Background(), "not-a-url")

	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestResolver_Resolve_RejectsBlankURL(t *testing.T) {
	r := NewResolver(&config.OCRConfig{MaxRedirects: 5, RedirectHopTimeout: time.Second, MetaRefreshPeekKB: 50}, config.RetryConfig{MaxAttempts: 1})

	_, err := r.Resolve(context.Background(), "")

	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestExtractMetaRefresh(t *testing.T) {
	html := []byte(`<html><head><title>x</title><meta http-equiv="Refresh" content="5;URL='/other.pdf'"></head></html>`)

	target, ok := extractMetaRefresh(html)

	require.True(t, ok)
	assert.Equal(t, "/other.pdf", target)
}

func TestExtractMetaRefresh_NoMatch(t *testing.T) {
	_, ok := extractMetaRefresh([]byte(`<html><body>no refresh here</body></html>`))

	assert.False(t, ok)
}
