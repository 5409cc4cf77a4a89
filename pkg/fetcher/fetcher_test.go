package fetcher

import (
	"context"
	"errors"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/go-extension/tls"

	"github.com/pmkol/rdapx/pkg/rdaperr"
	"github.com/pmkol/rdapx/pkg/ssrf"
)

func newTestFetcher(t *testing.T, opts Opts) *Fetcher {
	t.Helper()
	if opts.Guard == nil {
		g, err := ssrf.NewGuard(ssrf.Opts{Disabled: true})
		require.NoError(t, err)
		opts.Guard = g
	}
	opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	f, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func newServer(t *testing.T, h stdhttp.HandlerFunc) *httptest.Server {
	t.Helper()
	s := httptest.NewTLSServer(h)
	t.Cleanup(s.Close)
	return s
}

func Test_Fetcher_OK(t *testing.T) {
	s := newServer(t, func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		assert.Equal(t, stdhttp.MethodGet, r.Method)
		assert.Contains(t, r.Header.Get("Accept"), "application/rdap+json")
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "rdapx/"))
		w.Header().Set("Content-Type", "application/rdap+json")
		w.Write([]byte(`{"objectClassName":"domain","ldhName":"example.com"}`))
	})

	f := newTestFetcher(t, Opts{})
	raw, err := f.Fetch(context.Background(), s.URL+"/domain/example.com")
	require.NoError(t, err)
	assert.Equal(t, 200, raw.Status)
	assert.Equal(t, "application/rdap+json", raw.ContentType)
	assert.JSONEq(t, `{"objectClassName":"domain","ldhName":"example.com"}`, string(raw.Body))
}

func Test_Fetcher_Status(t *testing.T) {
	s := newServer(t, func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(stdhttp.StatusNotFound)
		default:
			w.WriteHeader(stdhttp.StatusServiceUnavailable)
		}
	})
	f := newTestFetcher(t, Opts{})

	_, err := f.Fetch(context.Background(), s.URL+"/missing")
	var se *rdaperr.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.Status)
	assert.False(t, rdaperr.IsRetryable(err, []int{503}))

	_, err = f.Fetch(context.Background(), s.URL+"/busy")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.Status)
	assert.True(t, rdaperr.IsRetryable(err, []int{503}))
}

func Test_Fetcher_Body(t *testing.T) {
	s := newServer(t, func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		switch r.URL.Path {
		case "/big":
			w.Write([]byte(`{"a":"` + strings.Repeat("x", 200) + `"}`))
		default:
			w.Write([]byte(`<html>`))
		}
	})
	f := newTestFetcher(t, Opts{MaxBodySize: 64})

	var pe *rdaperr.ParseError
	_, err := f.Fetch(context.Background(), s.URL+"/big")
	assert.ErrorAs(t, err, &pe)
	_, err = f.Fetch(context.Background(), s.URL+"/html")
	assert.ErrorAs(t, err, &pe)
}

func Test_Fetcher_Timeout(t *testing.T) {
	block := make(chan struct{})
	s := newServer(t, func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	defer close(block)

	f := newTestFetcher(t, Opts{Timeout: 100 * time.Millisecond})
	_, err := f.Fetch(context.Background(), s.URL)
	var te *rdaperr.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 100*time.Millisecond, te.Timeout)
	assert.True(t, rdaperr.IsRetryable(err, nil))
}

func Test_Fetcher_Cancelled(t *testing.T) {
	f := newTestFetcher(t, Opts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, "https://rdap.example.invalid/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, rdaperr.IsRetryable(err, nil))
}

func Test_Fetcher_NetworkError(t *testing.T) {
	s := httptest.NewTLSServer(stdhttp.NotFoundHandler())
	u := s.URL
	s.Close()

	f := newTestFetcher(t, Opts{})
	_, err := f.Fetch(context.Background(), u)
	var ne *rdaperr.NetworkError
	assert.ErrorAs(t, err, &ne)
}

func Test_Fetcher_Redirect(t *testing.T) {
	var s *httptest.Server
	s = newServer(t, func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		switch r.URL.Path {
		case "/old":
			stdhttp.Redirect(w, r, "/new", stdhttp.StatusMovedPermanently)
		case "/loop":
			stdhttp.Redirect(w, r, "/loop", stdhttp.StatusFound)
		case "/plain":
			stdhttp.Redirect(w, r, "http://rdap.example.com/x", stdhttp.StatusFound)
		default:
			w.Write([]byte(`{}`))
		}
	})
	f := newTestFetcher(t, Opts{MaxRedirects: 3})

	raw, err := f.Fetch(context.Background(), s.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, s.URL+"/new", raw.URL)

	_, err = f.Fetch(context.Background(), s.URL+"/loop")
	var ne *rdaperr.NetworkError
	assert.ErrorAs(t, err, &ne)

	// The guard runs on every hop.
	_, err = f.Fetch(context.Background(), s.URL+"/plain")
	var se *rdaperr.SSRFProtectionError
	assert.ErrorAs(t, err, &se)
}

func Test_Fetcher_Guard(t *testing.T) {
	f := newTestFetcher(t, Opts{Guard: ssrf.MustNewGuard()})
	for _, u := range []string{
		"http://rdap.example.com/domain/a.com",
		"https://127.0.0.1/domain/a.com",
		"https://[::1]/ip/1.1.1.1",
		"https://localhost/autnum/1",
	} {
		_, err := f.Fetch(context.Background(), u)
		var se *rdaperr.SSRFProtectionError
		assert.ErrorAs(t, err, &se, u)
	}
}

func Test_New(t *testing.T) {
	_, err := New(Opts{})
	assert.Error(t, err)
}
