// Package pqueue runs submitted work with bounded concurrency in strict
// priority order: a waiting high item always starts before any normal one,
// and normal before low. Items of one priority start in submission order.
// There is no aging, so low items can starve under sustained high load.
package pqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pmkol/rdapx/pkg/list"
	"github.com/pmkol/rdapx/pkg/rdaperr"
	"github.com/pmkol/rdapx/pkg/utils"
)

type Priority int

const (
	Low Priority = iota
	Normal
	High

	numLanes = 3
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return Low, nil
	case "", "normal":
		return Normal, nil
	case "high":
		return High, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

var ErrClosed = errors.New("queue closed")

// Handler processes one payload. The ctx is never cancelled by other items.
type Handler[T, R any] func(ctx context.Context, payload T) (R, error)

type Opts struct {
	// Concurrency is the maximum number of active handlers. Default is 4.
	Concurrency int

	Logger *zap.Logger

	// MetricsReg registers queue gauges if not nil.
	MetricsReg prometheus.Registerer
}

type item[T, R any] struct {
	id         string
	priority   Priority
	payload    T
	enqueuedAt time.Time
	future     *Future[R]
}

type Queue[T, R any] struct {
	opts    Opts
	logger  *zap.Logger
	handler Handler[T, R]
	sem     *semaphore.Weighted

	mu     sync.Mutex
	lanes  [numLanes]*list.List[*item[T, R]]
	closed bool

	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
}

func New[T, R any](h Handler[T, R], opts Opts) (*Queue[T, R], error) {
	if h == nil {
		return nil, errors.New("nil handler")
	}
	utils.SetDefaultNum(&opts.Concurrency, 4)
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue[T, R]{
		opts:    opts,
		logger:  lg,
		handler: h,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		notify:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range q.lanes {
		q.lanes[i] = list.New[*item[T, R]]()
	}

	if opts.MetricsReg != nil {
		if err := q.registerMetrics(opts.MetricsReg); err != nil {
			cancel()
			return nil, err
		}
	}

	q.wg.Add(1)
	go q.dispatch()
	return q, nil
}

func (q *Queue[T, R]) registerMetrics(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "queue_pending",
			Help: "The number of items waiting in the priority queue",
		}, func() float64 { return float64(q.Pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "queue_active",
			Help: "The number of items being processed",
		}, func() float64 { return float64(q.Active()) }),
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue submits payload. A nil Future is never returned. If q is closed
// the Future is already resolved with ErrClosed.
func (q *Queue[T, R]) Enqueue(payload T, p Priority) *Future[R] {
	if p < Low || p > High {
		p = Normal
	}
	it := &item[T, R]{
		id:         uuid.NewString(),
		priority:   p,
		payload:    payload,
		enqueuedAt: time.Now(),
	}
	it.future = newFuture[R](it.id)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		var zero R
		it.future.resolve(zero, ErrClosed)
		return it.future
	}
	q.lanes[p].PushBack(list.NewElem(it))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return it.future
}

func (q *Queue[T, R]) dispatch() {
	defer q.wg.Done()
	for {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return
		}
		it := q.next()
		if it == nil {
			q.sem.Release(1)
			return
		}

		q.active.Add(1)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer q.sem.Release(1)
			defer q.active.Add(-1)
			q.run(it)
		}()
	}
}

// next blocks until an item is available or q is closed.
func (q *Queue[T, R]) next() *item[T, R] {
	for {
		q.mu.Lock()
		for p := High; p >= Low; p-- {
			if e := q.lanes[p].PopFront(); e != nil {
				q.mu.Unlock()
				return e.Value
			}
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.ctx.Done():
			return nil
		}
	}
}

func (q *Queue[T, R]) run(it *item[T, R]) {
	q.logger.Debug("queue item started",
		zap.String("id", it.id),
		zap.Stringer("priority", it.priority),
		zap.Duration("waited", time.Since(it.enqueuedAt)))
	r, err := q.handler(context.Background(), it.payload)
	it.future.resolve(r, err)
}

// Clear rejects every waiting item with rdaperr.ErrQueueCleared. Active
// items are not affected.
func (q *Queue[T, R]) Clear() int {
	return q.drain(rdaperr.ErrQueueCleared)
}

func (q *Queue[T, R]) drain(err error) int {
	q.mu.Lock()
	var items []*item[T, R]
	for _, l := range q.lanes {
		for e := l.PopFront(); e != nil; e = l.PopFront() {
			items = append(items, e.Value)
		}
	}
	q.mu.Unlock()

	var zero R
	for _, it := range items {
		it.future.resolve(zero, err)
	}
	if len(items) > 0 {
		q.logger.Info("queue drained", zap.Int("items", len(items)), zap.Error(err))
	}
	return len(items)
}

// Pending returns the number of waiting items.
func (q *Queue[T, R]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, l := range q.lanes {
		n += l.Len()
	}
	return n
}

// Active returns the number of running handlers.
func (q *Queue[T, R]) Active() int {
	return int(q.active.Load())
}

// Close stops the dispatcher, rejects waiting items with ErrClosed and
// waits for active handlers to return.
func (q *Queue[T, R]) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.drain(ErrClosed)
	q.wg.Wait()
	return nil
}

// Future is the pending result of an enqueued item.
type Future[R any] struct {
	id   string
	done chan struct{}
	once sync.Once
	res  R
	err  error
}

func newFuture[R any](id string) *Future[R] {
	return &Future[R]{id: id, done: make(chan struct{})}
}

func (f *Future[R]) ID() string {
	return f.id
}

// Done is closed when the result is available.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. A done ctx
// does not cancel the item.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (f *Future[R]) resolve(r R, err error) {
	f.once.Do(func() {
		f.res, f.err = r, err
		close(f.done)
	})
}
