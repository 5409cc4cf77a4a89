package query_context

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/rdapx/pkg/rdap"
)

// Context carries per-query state through the client pipeline.
type Context struct {
	startTime time.Time
	q         rdap.Query
	id        uint32
	caller    string

	source string
	cached bool
}

var contextUid uint32

// NewContext creates a new query Context.
func NewContext(q rdap.Query, caller string) *Context {
	return &Context{
		q:         q,
		caller:    caller,
		id:        atomic.AddUint32(&contextUid, 1),
		startTime: time.Now(),
	}
}

// String returns a short summary of its query.
func (ctx *Context) String() string {
	return fmt.Sprintf("%s %s %d", ctx.q.Type, ctx.q.Value, ctx.id)
}

// Q returns the normalized query.
func (ctx *Context) Q() rdap.Query {
	return ctx.q
}

// Caller returns the rate limit key of the caller.
func (ctx *Context) Caller() string {
	return ctx.caller
}

// SetSource records the URL the response came from.
func (ctx *Context) SetSource(s string) {
	ctx.source = s
}

func (ctx *Context) Source() string {
	return ctx.source
}

func (ctx *Context) SetCached(b bool) {
	ctx.cached = b
}

func (ctx *Context) Cached() bool {
	return ctx.cached
}

// Id returns the Context id.
func (ctx *Context) Id() uint32 {
	return ctx.id
}

// StartTime returns the time when the Context was created.
func (ctx *Context) StartTime() time.Time {
	return ctx.startTime
}

// Elapsed returns the time since the Context was created.
func (ctx *Context) Elapsed() time.Duration {
	return time.Since(ctx.startTime)
}

// InfoField returns a zap.Field.
func (ctx *Context) InfoField() zap.Field {
	return zap.Stringer("query", ctx)
}
