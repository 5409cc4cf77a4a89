// Package batch runs many queries with bounded fan-out. Results are
// returned in completion order, not request order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/utils"
)

const defaultConcurrency = 5

type Querier interface {
	Query(ctx context.Context, t rdap.QueryType, input string) (rdap.Response, error)
}

type Request struct {
	ID    string         `json:"id,omitempty" yaml:"id,omitempty"`
	Type  rdap.QueryType `json:"type" yaml:"type"`
	Query string         `json:"query" yaml:"query"`
}

type Result struct {
	ID       string
	Type     rdap.QueryType
	Query    string
	Response rdap.Response
	Err      error
	Duration time.Duration
}

type Options struct {
	// Concurrency is the maximum number of queries in flight. Default is 5.
	Concurrency int

	// ContinueOnError records per-item errors in the results instead of
	// returning the first one.
	ContinueOnError bool
}

type Processor struct {
	q      Querier
	logger *zap.Logger
}

func New(q Querier, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{q: q, logger: logger}
}

// Process runs reqs. Requests without an ID get a random one.
//
// Without ContinueOnError the first failure is returned immediately together
// with the results collected so far; queries already in flight keep running
// and their results are dropped. A done ctx stops dispatching and returns
// ctx.Err(). Dispatched queries run on a context detached from ctx's
// cancellation, so they complete even after Process returned.
func (p *Processor) Process(ctx context.Context, reqs []Request, opts Options) ([]Result, error) {
	utils.SetDefaultNum(&opts.Concurrency, defaultConcurrency)
	if len(reqs) == 0 {
		return nil, nil
	}

	// Buffered so that abandoned queries never block.
	done := make(chan Result, len(reqs))
	results := make([]Result, 0, len(reqs))
	next, inFlight := 0, 0
	start := time.Now()
	runCtx := context.WithoutCancel(ctx)

	for len(results) < len(reqs) {
		for inFlight < opts.Concurrency && next < len(reqs) {
			req := reqs[next]
			if len(req.ID) == 0 {
				req.ID = uuid.NewString()
			}
			next++
			inFlight++
			go func() {
				done <- p.run(runCtx, req)
			}()
		}

		select {
		case r := <-done:
			inFlight--
			if r.Err != nil && !opts.ContinueOnError {
				p.logger.Debug("batch aborted", zap.String("id", r.ID), zap.Int("completed", len(results)), zap.Error(r.Err))
				return results, fmt.Errorf("batch item %s (%s %q): %w", r.ID, r.Type, r.Query, r.Err)
			}
			results = append(results, r)
		case <-ctx.Done():
			return results, ctx.Err()
		}
	}

	p.logger.Debug("batch finished", zap.Int("items", len(results)), zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

func (p *Processor) run(ctx context.Context, req Request) Result {
	start := time.Now()
	resp, err := p.q.Query(ctx, req.Type, req.Query)
	return Result{
		ID:       req.ID,
		Type:     req.Type,
		Query:    req.Query,
		Response: resp,
		Err:      err,
		Duration: time.Since(start),
	}
}

// LoadRequests reads a YAML or JSON list of requests.
func LoadRequests(r io.Reader) ([]Request, error) {
	var reqs []Request
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&reqs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode batch requests: %w", err)
	}
	for i, req := range reqs {
		if !req.Type.Valid() {
			return nil, fmt.Errorf("batch request #%d: invalid type %q", i, req.Type)
		}
		if len(req.Query) == 0 {
			return nil, fmt.Errorf("batch request #%d: empty query", i)
		}
	}
	return reqs, nil
}
