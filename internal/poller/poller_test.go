package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoller_FirstCallImmediate(t *testing.T) {
	var calls atomic.Int32
	p := New(func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, Config[int]{Interval: time.Hour})

	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.State().HasData }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Wait()

	st := p.State()
	assert.Equal(t, 1, st.Data)
	assert.Equal(t, 1, st.Calls)
	assert.False(t, st.Running)
	assert.NoError(t, st.Err)
}

func TestPoller_StoresLatestSuccessAndFailure(t *testing.T) {
	errBoom := errors.New("boom")
	var calls atomic.Int32
	p := New(func(ctx context.Context) (string, error) {
		if calls.Add(1) == 2 {
			return "", errBoom
		}
		return "ok", nil
	}, Config[string]{Interval: 5 * time.Millisecond})

	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.State().Calls >= 3 }, time.Second, 2*time.Millisecond)
	p.Stop()
	p.Wait()

	st := p.State()
	assert.Equal(t, "ok", st.Data)
	assert.ErrorIs(t, st.Err, errBoom)
	assert.False(t, st.LastFailed)
}

func TestPoller_AtMostOneInFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex
	var starts, ends []time.Time

	p := New(func(ctx context.Context) (int, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		inFlight.Add(-1)
		return 0, nil
	}, Config[int]{Interval: time.Millisecond})

	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.State().Calls >= 4 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()
	p.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(starts); i++ {
		assert.False(t, starts[i].Before(ends[i-1]), "call %d started before call %d finished", i, i-1)
	}
}

func TestPoller_StopDiscardsInFlightResult(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once

	p := New(func(ctx context.Context) (int, error) {
		once.Do(func() { close(entered) })
		<-release
		return 42, nil
	}, Config[int]{Interval: time.Millisecond})

	p.Start(context.Background())
	<-entered
	p.Stop()
	close(release)
	p.Wait()

	st := p.State()
	assert.False(t, st.HasData)
	assert.Zero(t, st.Calls)
	assert.False(t, st.Running)
	assert.False(t, st.Loading)
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	p := New(func(ctx context.Context) (int, error) { return 1, nil }, Config[int]{Interval: time.Millisecond})

	p.Stop()
	p.Start(context.Background())
	p.Stop()
	p.Stop()
	p.Wait()
	assert.False(t, p.State().Running)
}

func TestPoller_BackoffDoublesAndResets(t *testing.T) {
	var calls atomic.Int32
	failUntil := int32(4)
	var intervals []time.Duration
	var mu sync.Mutex

	var p *Poller[int]
	p = New(func(ctx context.Context) (int, error) {
		n := calls.Add(1)
		if n <= failUntil {
			return 0, errors.New("unavailable")
		}
		return int(n), nil
	}, Config[int]{
		Interval:    time.Millisecond,
		Backoff:     true,
		MaxInterval: 4 * time.Millisecond,
		OnResult: func(int, error) {
			mu.Lock()
			intervals = append(intervals, p.State().Interval)
			mu.Unlock()
		},
	})

	p.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() > failUntil }, 2*time.Second, time.Millisecond)
	p.Stop()
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(intervals), 5)
	assert.Equal(t, []time.Duration{
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
		time.Millisecond,
	}, intervals[:5])
}

func TestPoller_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(func(ctx context.Context) (int, error) { return 1, nil }, Config[int]{Interval: time.Hour})

	p.Start(ctx)
	require.Eventually(t, func() bool { return p.State().HasData }, time.Second, 5*time.Millisecond)
	cancel()
	p.Wait()

	assert.False(t, p.State().Running)
}

func TestPoller_RestartAfterStop(t *testing.T) {
	var calls atomic.Int32
	p := New(func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, Config[int]{Interval: time.Hour})

	p.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Wait()

	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.State().Calls == 2 }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Wait()
	assert.Equal(t, 2, p.State().Data)
}

func TestPoller_RestartWaitsForInFlightCall(t *testing.T) {
	var calls, inFlight, maxInFlight atomic.Int32
	p := New(func(ctx context.Context) (int, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return int(calls.Add(1)), nil
	}, Config[int]{Interval: time.Hour})

	p.Start(context.Background())
	require.Eventually(t, func() bool { return inFlight.Load() == 1 }, time.Second, time.Millisecond)
	p.Stop()
	p.Start(context.Background())

	require.Eventually(t, func() bool { return p.State().Calls == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, p.State().Data)
}

func TestNew_DefaultMaxInterval(t *testing.T) {
	p := New(func(ctx context.Context) (int, error) { return 0, nil }, Config[int]{Interval: time.Second})
	assert.Equal(t, 32*time.Second, p.cfg.MaxInterval)

	p = New(func(ctx context.Context) (int, error) { return 0, nil }, Config[int]{Interval: time.Minute})
	assert.Equal(t, maxBackoffCap, p.cfg.MaxInterval)
}
