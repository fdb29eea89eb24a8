package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClampsArguments(t *testing.T) {
	t.Parallel()

	p := New(0, 0)
	require.Equal(t, 1, p.Capacity())
	require.Equal(t, 1, p.PriorityRange())
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	p := New(2, 10)
	ctx := context.Background()

	s1, err := p.Acquire(ctx, 5)
	require.NoError(t, err)
	s2, err := p.Acquire(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 2, p.InUse())
	require.NotEqual(t, s1.ID(), s2.ID())

	p.Release(s1)
	require.Equal(t, 1, p.InUse())
	p.Release(s2)
	require.Equal(t, 0, p.InUse())
}

func TestReleaseTwicePanics(t *testing.T) {
	t.Parallel()

	p := New(1, 1)
	s, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	p.Release(s)
	require.Panics(t, func() { p.Release(s) })
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()

	p := New(1, 10)
	ctx := context.Background()
	holder, err := p.Acquire(ctx, 0)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	// Queue one waiter at a time so arrival order is deterministic.
	for i, prio := range []int{7, 2, 9, 2, 0} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(ctx, prio)
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, prio)
			mu.Unlock()
			p.Release(s)
		}()
		require.Eventually(t, func() bool { return p.Waiting() == i+1 }, time.Second, time.Millisecond)
	}

	p.Release(holder)
	wg.Wait()
	require.Equal(t, []int{0, 2, 2, 7, 9}, order)
}

func TestPriorityIsClamped(t *testing.T) {
	t.Parallel()

	p := New(1, 3)
	s, err := p.Acquire(context.Background(), 99)
	require.NoError(t, err)
	require.Equal(t, 2, s.Priority())
	p.Release(s)

	s, err = p.Acquire(context.Background(), -4)
	require.NoError(t, err)
	require.Equal(t, 0, s.Priority())
	p.Release(s)
}

func TestInUseNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 3
	p := New(capacity, 10)
	var (
		current atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := p.Acquire(context.Background(), i%10)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			p.Release(s)
		}(i)
	}
	wg.Wait()
	require.LessOrEqual(t, int(peak.Load()), capacity)
	require.Equal(t, 0, p.InUse())
	require.Equal(t, 0, p.Waiting())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	p := New(1, 1)
	holder, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, p.Waiting())

	p.Release(holder)
	require.Equal(t, 0, p.InUse())
}

func TestCloseWakesWaiters(t *testing.T) {
	t.Parallel()

	p := New(1, 1)
	holder, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), 0)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return p.Waiting() == 1 }, time.Second, time.Millisecond)

	p.Close()
	require.True(t, errors.Is(<-errCh, ErrClosed))

	_, err = p.Acquire(context.Background(), 0)
	require.ErrorIs(t, err, ErrClosed)

	p.Release(holder)
	require.Equal(t, 0, p.InUse())
}
