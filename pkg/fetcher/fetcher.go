// Package fetcher is the default HTTPS transport for RDAP and bootstrap
// documents. Every physical request, including each redirect hop, is
// checked by an ssrf.Guard first.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"gitlab.com/go-extension/http"
	"gitlab.com/go-extension/tls"
	"go.uber.org/zap"

	C "github.com/pmkol/rdapx/constant"
	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/rdaperr"
	"github.com/pmkol/rdapx/pkg/ssrf"
	"github.com/pmkol/rdapx/pkg/utils"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodySize  = 4 << 20
	defaultMaxRedirects = 5

	rdapContentType = "application/rdap+json"
)

var defaultUserAgent = fmt.Sprintf("rdapx/%s", C.Version)

type Opts struct {
	// Guard cannot be nil.
	Guard *ssrf.Guard

	// Timeout bounds one request attempt including redirects. Default is 10s.
	Timeout time.Duration

	// MaxBodySize in bytes. Default is 4MiB.
	MaxBodySize int64

	// MaxRedirects. Default is 5.
	MaxRedirects int

	UserAgent string

	// TLSConfig for the transport. Default requires TLS 1.2.
	TLSConfig *tls.Config

	Logger *zap.Logger
}

type Fetcher struct {
	opts      Opts
	transport *http.Transport
}

func New(opts Opts) (*Fetcher, error) {
	if opts.Guard == nil {
		return nil, errors.New("nil ssrf guard")
	}
	utils.SetDefaultNum(&opts.Timeout, defaultTimeout)
	utils.SetDefaultNum(&opts.MaxBodySize, defaultMaxBodySize)
	utils.SetDefaultNum(&opts.MaxRedirects, defaultMaxRedirects)
	utils.SetDefaultString(&opts.UserAgent, defaultUserAgent)
	if opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	t := &http.Transport{
		TLSClientConfig:     opts.TLSConfig,
		TLSHandshakeTimeout: opts.Timeout,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Fetcher{opts: opts, transport: t}, nil
}

// Fetch GETs rawURL and returns the body of a 2xx answer. Redirects are
// followed manually so that each hop passes the guard.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*rdap.RawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	u := rawURL
	for hop := 0; ; hop++ {
		if err := f.opts.Guard.Validate(u); err != nil {
			return nil, err
		}

		res, err := f.roundTrip(ctx, u)
		if err != nil {
			return nil, f.mapErr(ctx, u, err)
		}

		if isRedirect(res.StatusCode) {
			loc := res.Header.Get("Location")
			res.Body.Close()
			if len(loc) == 0 {
				return nil, &rdaperr.ServerError{URL: u, Status: res.StatusCode}
			}
			if hop >= f.opts.MaxRedirects {
				return nil, &rdaperr.NetworkError{URL: rawURL, Err: fmt.Errorf("stopped after %d redirects", hop)}
			}
			next, err := resolveRef(u, loc)
			if err != nil {
				return nil, &rdaperr.NetworkError{URL: u, Err: err}
			}
			f.opts.Logger.Debug("following redirect", zap.String("from", u), zap.String("to", next))
			u = next
			continue
		}

		return f.readResponse(ctx, u, res)
	}
}

func (f *Fetcher) roundTrip(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", rdapContentType+", application/json")
	req.Header.Set("User-Agent", f.opts.UserAgent)
	return f.transport.RoundTrip(req)
}

func (f *Fetcher) readResponse(ctx context.Context, u string, res *http.Response) (*rdap.RawResponse, error) {
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &rdaperr.ServerError{URL: u, Status: res.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, f.opts.MaxBodySize+1))
	if err != nil {
		return nil, f.mapErr(ctx, u, err)
	}
	if int64(len(body)) > f.opts.MaxBodySize {
		return nil, &rdaperr.ParseError{Source: u, Err: fmt.Errorf("response exceeds maximum size of %d bytes", f.opts.MaxBodySize)}
	}
	if !json.Valid(body) {
		return nil, &rdaperr.ParseError{Source: u, Err: errors.New("invalid json body")}
	}

	return &rdap.RawResponse{
		URL:         u,
		Status:      res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// mapErr classifies a transport error. A cancelled parent context is
// returned as is so that it is never retried.
func (f *Fetcher) mapErr(ctx context.Context, u string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &rdaperr.TimeoutError{URL: u, Timeout: f.opts.Timeout, Err: err}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return &rdaperr.NetworkError{URL: u, Err: err}
}

func (f *Fetcher) Close() error {
	f.transport.CloseIdleConnections()
	return nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid redirect location %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
