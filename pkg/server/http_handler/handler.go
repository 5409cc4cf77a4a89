/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 */

package http_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pmkol/rdapx/pkg/batch"
	"github.com/pmkol/rdapx/pkg/client"
	"github.com/pmkol/rdapx/pkg/pqueue"
	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/rdaperr"
)

var nopLogger = zap.NewNop()

// proxyHeaders is defined as a package-level variable to avoid allocation on every request.
var proxyHeaders = []string{"True-Client-IP", "X-Real-IP", "X-Forwarded-For"}

const (
	maxBatchBodySize = 1 << 20
	contentTypeJSON  = "application/json"
)

// Querier is the query pipeline served by the handler.
type Querier interface {
	Query(ctx context.Context, t rdap.QueryType, input string) (rdap.Response, error)
	ClearCache()
	Stats() client.Stats
}

// Job is one single query submitted through the priority queue.
type Job struct {
	Caller string
	Type   rdap.QueryType
	Input  string
}

type Submitter interface {
	Enqueue(j Job, p pqueue.Priority) *pqueue.Future[rdap.Response]
}

type HandlerOpts struct {
	Client Querier

	// Queue optionally runs single queries by priority.
	Queue Submitter

	// Batch serves POST /batch if not nil.
	Batch     *batch.Processor
	BatchOpts batch.Options
	// MaxBatchSize limits the number of requests in one batch. Default is 100.
	MaxBatchSize int

	// Metrics serves /metrics if not nil.
	Metrics http.Handler

	// TrustProxyHeaders uses the standard proxy headers and SrcIPHeader
	// to find the client address.
	TrustProxyHeaders bool
	SrcIPHeader       string
	HealthPath        string
	Logger            *zap.Logger
}

func (opts *HandlerOpts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 100
	}
	return nil
}

type Handler struct {
	opts   HandlerOpts
	router chi.Router
}

func NewHandler(opts HandlerOpts) (*Handler, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	h := &Handler{opts: opts, router: chi.NewRouter()}
	h.Register(h.router)
	return h, nil
}

// Register mounts the API endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get(h.opts.HealthPath, h.handleHealth)
	r.Get("/domain/{name}", h.queryHandler(rdap.TypeDomain, "name"))
	r.Get("/ip/{addr}", h.queryHandler(rdap.TypeIP, "addr"))
	r.Get("/autnum/{asn}", h.queryHandler(rdap.TypeASN, "asn"))
	r.Get("/stats", h.handleStats)
	r.Delete("/cache", h.handleClearCache)
	if h.opts.Batch != nil {
		r.Post("/batch", h.handleBatch)
	}
	if h.opts.Metrics != nil {
		r.Handle("/metrics", h.opts.Metrics)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) warnErr(r *http.Request, err error) {
	h.opts.Logger.Warn(err.Error(), zap.String("from", r.RemoteAddr), zap.String("method", r.Method), zap.String("url", r.RequestURI))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) queryHandler(t rdap.QueryType, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input := chi.URLParam(r, param)
		caller := h.callerKey(r)

		p, err := pqueue.ParsePriority(r.URL.Query().Get("priority"))
		if err != nil {
			writeError(w, &rdaperr.ValidationError{Field: "priority", Input: r.URL.Query().Get("priority"), Reason: "must be one of low, normal, high"})
			return
		}

		var resp rdap.Response
		if h.opts.Queue != nil {
			f := h.opts.Queue.Enqueue(Job{Caller: caller, Type: t, Input: input}, p)
			resp, err = f.Wait(r.Context())
		} else {
			resp, err = h.opts.Client.Query(client.WithCallerKey(r.Context(), caller), t, input)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			h.opts.Logger.Debug("api query failed", zap.String("type", string(t)), zap.String("input", input), zap.String("caller", caller), zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Client.Stats())
}

func (h *Handler) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	h.opts.Client.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	Requests        []batch.Request `json:"requests"`
	Concurrency     int             `json:"concurrency"`
	ContinueOnError *bool           `json:"continueOnError"`
}

type batchItem struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Query      string        `json:"query"`
	Response   rdap.Response `json:"response,omitempty"`
	Error      *errorBody    `json:"error,omitempty"`
	DurationMS int64         `json:"durationMs"`
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBatchBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.warnErr(r, fmt.Errorf("decode batch body failed: %w", err))
		writeError(w, &rdaperr.ValidationError{Field: "body", Reason: "invalid batch request json"})
		return
	}
	if n := len(req.Requests); n == 0 || n > h.opts.MaxBatchSize {
		writeError(w, &rdaperr.ValidationError{Field: "requests", Input: fmt.Sprint(n), Reason: fmt.Sprintf("must contain 1 to %d items", h.opts.MaxBatchSize)})
		return
	}

	opts := h.opts.BatchOpts
	if req.Concurrency > 0 && (opts.Concurrency <= 0 || req.Concurrency < opts.Concurrency) {
		opts.Concurrency = req.Concurrency
	}
	if req.ContinueOnError != nil {
		opts.ContinueOnError = *req.ContinueOnError
	}

	ctx := client.WithCallerKey(r.Context(), h.callerKey(r))
	results, err := h.opts.Batch.Process(ctx, req.Requests, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]batchItem, 0, len(results))
	for _, res := range results {
		it := batchItem{
			ID:         res.ID,
			Type:       string(res.Type),
			Query:      res.Query,
			Response:   res.Response,
			DurationMS: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			it.Error = newErrorBody(res.Err)
		}
		items = append(items, it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// callerKey returns the client address used as the rate limit key.
func (h *Handler) callerKey(r *http.Request) string {
	addr, err := getRemoteAddr(r, h.opts.TrustProxyHeaders, h.opts.SrcIPHeader)
	if err != nil {
		return client.DefaultCallerKey
	}
	return addr.String()
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func newErrorBody(err error) *errorBody {
	return &errorBody{Code: rdaperr.CodeOf(err), Message: err.Error(), Hint: rdaperr.HintOf(err)}
}

func writeError(w http.ResponseWriter, err error) {
	var rl *rdaperr.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", fmt.Sprint(int64(math.Ceil(rl.RetryAfter.Seconds()))))
	}
	writeJSON(w, rdaperr.StatusOf(err), newErrorBody(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getRemoteAddr(r *http.Request, trustHeaders bool, customHeader string) (netip.Addr, error) {
	if trustHeaders {
		// Priority check for common proxy headers using the static package-level slice
		for _, h := range proxyHeaders {
			if val := r.Header.Get(h); val != "" {
				// Handle potential list in X-Forwarded-For (take first)
				ipStr := val
				if h == "X-Forwarded-For" {
					ipStr, _, _ = strings.Cut(val, ",")
				}
				if addr, err := netip.ParseAddr(strings.TrimSpace(ipStr)); err == nil {
					return addr.Unmap(), nil
				}
			}
		}

		if customHeader != "" {
			if val := r.Header.Get(customHeader); val != "" {
				if addr, err := netip.ParseAddr(strings.TrimSpace(val)); err == nil {
					return addr.Unmap(), nil
				}
			}
		}
	}

	// Fallback to direct remote address
	addrport, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, err
	}
	return addrport.Addr().Unmap(), nil
}
