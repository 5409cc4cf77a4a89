package pqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/rdapx/pkg/rdaperr"
)

type recorder struct {
	mu    sync.Mutex
	order []string
	gate  chan struct{}
}

func (r *recorder) handle(_ context.Context, s string) (string, error) {
	if s == "blocker" {
		<-r.gate
	}
	r.mu.Lock()
	r.order = append(r.order, s)
	r.mu.Unlock()
	return "done:" + s, nil
}

func newBlocked(t *testing.T, concurrency int) (*Queue[string, string], *recorder, *Future[string]) {
	t.Helper()
	rec := &recorder{gate: make(chan struct{})}
	q, err := New[string, string](rec.handle, Opts{Concurrency: concurrency})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	f := q.Enqueue("blocker", Normal)
	require.Eventually(t, func() bool { return q.Active() == 1 }, time.Second, time.Millisecond)
	return q, rec, f
}

func Test_Queue_PriorityOrder(t *testing.T) {
	q, rec, blocker := newBlocked(t, 1)

	var fs []*Future[string]
	for _, in := range []struct {
		s string
		p Priority
	}{
		{"l1", Low}, {"n1", Normal}, {"h1", High}, {"l2", Low}, {"h2", High}, {"n2", Normal},
	} {
		fs = append(fs, q.Enqueue(in.s, in.p))
	}
	assert.Equal(t, 6, q.Pending())
	close(rec.gate)

	ctx := context.Background()
	r, err := blocker.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done:blocker", r)
	for _, f := range fs {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"blocker", "h1", "h2", "n1", "n2", "l1", "l2"}, rec.order)
	assert.Equal(t, 0, q.Pending())
}

func Test_Queue_Concurrency(t *testing.T) {
	var cur, peak atomic.Int32
	h := func(_ context.Context, n int) (int, error) {
		c := cur.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return n * 2, nil
	}
	q, err := New[int, int](h, Opts{Concurrency: 2})
	require.NoError(t, err)
	defer q.Close()

	var fs []*Future[int]
	for i := 0; i < 6; i++ {
		fs = append(fs, q.Enqueue(i, Normal))
	}
	for i, f := range fs {
		r, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i*2, r)
		assert.NotEmpty(t, f.ID())
	}
	assert.EqualValues(t, 2, peak.Load())
}

func Test_Queue_HandlerError(t *testing.T) {
	wantErr := errors.New("boom")
	q, err := New[int, int](func(_ context.Context, n int) (int, error) {
		if n < 0 {
			return 0, wantErr
		}
		return n, nil
	}, Opts{})
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Enqueue(-1, High).Wait(context.Background())
	assert.ErrorIs(t, err, wantErr)
	r, err := q.Enqueue(1, Low).Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, r)
}

func Test_Queue_Clear(t *testing.T) {
	q, rec, blocker := newBlocked(t, 1)

	a := q.Enqueue("a", High)
	b := q.Enqueue("b", Low)
	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Pending())

	for _, f := range []*Future[string]{a, b} {
		select {
		case <-f.Done():
		default:
			t.Fatal("cleared item is not resolved")
		}
		_, err := f.Wait(context.Background())
		assert.ErrorIs(t, err, rdaperr.ErrQueueCleared)
	}

	// The active item is not affected.
	close(rec.gate)
	_, err := blocker.Wait(context.Background())
	assert.NoError(t, err)

	// The queue is still usable.
	r, err := q.Enqueue("c", Normal).Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "done:c", r)
}

func Test_Queue_Close(t *testing.T) {
	q, rec, blocker := newBlocked(t, 1)
	waiting := q.Enqueue("w", Normal)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	_, err := waiting.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// Close waits for the active handler.
	select {
	case <-closed:
		t.Fatal("Close returned before the active handler")
	case <-time.After(20 * time.Millisecond):
	}
	close(rec.gate)
	<-closed
	_, err = blocker.Wait(context.Background())
	assert.NoError(t, err)

	_, err = q.Enqueue("late", High).Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, q.Close())
}

func Test_Future_WaitContext(t *testing.T) {
	_, rec, blocker := newBlocked(t, 1)
	defer close(rec.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := blocker.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_Queue_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &recorder{gate: make(chan struct{})}
	q, err := New[string, string](rec.handle, Opts{Concurrency: 1, MetricsReg: reg})
	require.NoError(t, err)
	defer q.Close()

	q.Enqueue("blocker", Normal)
	require.Eventually(t, func() bool { return q.Active() == 1 }, time.Second, time.Millisecond)
	q.Enqueue("x", Low)

	n, err := testutil.GatherAndCount(reg, "queue_pending", "queue_active")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	close(rec.gate)
}

func Test_ParsePriority(t *testing.T) {
	for s, want := range map[string]Priority{"low": Low, "": Normal, "NORMAL": Normal, "high": High} {
		p, err := ParsePriority(s)
		require.NoError(t, err)
		assert.Equal(t, want, p)
	}
	_, err := ParsePriority("urgent")
	assert.Error(t, err)
	assert.Equal(t, "high", High.String())
}
