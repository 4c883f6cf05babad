package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/duckofyork/tinkerpop/errors"
	"github.com/stretchr/testify/require"
)

func TestPromiseComplete(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()
	require.False(t, f.Done())
	select {
	case <-f.DoneChan():
		require.Fail(t, "future should not be done")
	default:
	}

	require.True(t, p.Complete(23))
	require.True(t, f.Done())
	<-f.DoneChan()
	res, err := f.ResultWithTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, 23, res)
}

func TestPromiseCompletesOnce(t *testing.T) {
	p := NewPromise[string]()
	require.True(t, p.Fail(errors.New("first")))
	require.False(t, p.Complete("second"))
	require.False(t, p.Fail(errors.New("third")))
	res, err := p.Future().ResultWithTimeout(time.Second)
	require.Equal(t, "", res)
	require.EqualError(t, err, "first")
}

func TestFutureResultTimeout(t *testing.T) {
	p := NewPromise[int]()
	_, err := p.Future().ResultWithTimeout(10 * time.Millisecond)
	require.Error(t, err)
	require.True(t, errors.IsTimeoutError(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Future().Result(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, p.Future().Done())
}

func TestFutureOnComplete(t *testing.T) {
	p := NewPromise[int]()
	var lock sync.Mutex
	var calls []int
	record := func(i int) func(int, error) {
		return func(res int, err error) {
			require.NoError(t, err)
			require.Equal(t, 7, res)
			lock.Lock()
			defer lock.Unlock()
			calls = append(calls, i)
		}
	}
	p.Future().OnComplete(record(0))
	p.Future().OnComplete(record(1))
	require.Empty(t, calls)

	p.Complete(7)
	require.Equal(t, []int{0, 1}, calls)

	// Registered after completion, runs straight away
	p.Future().OnComplete(record(2))
	require.Equal(t, []int{0, 1, 2}, calls)
}

func TestFutureConcurrentWaiters(t *testing.T) {
	p := NewPromise[int]()
	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := 0; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Future().ResultWithTimeout(5 * time.Second)
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	p.Complete(3)
	wg.Wait()
	for _, res := range results {
		require.Equal(t, 3, res)
	}
}
