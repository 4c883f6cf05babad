package driver

import (
	"context"
	"testing"
	"time"

	"github.com/duckofyork/tinkerpop/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestResultSetBatches(t *testing.T) {
	rs := newResultSet(uuid.New())
	require.Equal(t, ResultPending, rs.State())
	require.False(t, rs.Done())
	require.False(t, rs.firstResponse().Done())

	require.True(t, rs.addBatch([]interface{}{1, 2}))
	require.Equal(t, ResultPartial, rs.State())
	require.True(t, rs.firstResponse().Done())
	require.False(t, rs.All().Done())

	require.True(t, rs.addBatch([]interface{}{3, 4}))
	attrs := map[string]interface{}{"host": "server1"}
	require.True(t, rs.complete([]interface{}{5, 6}, attrs))
	require.Equal(t, ResultDoneOK, rs.State())
	require.True(t, rs.Done())
	require.NoError(t, rs.Err())
	require.Equal(t, attrs, rs.StatusAttributes())

	all, err := rs.All().ResultWithTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, []interface{}{1, 2, 3, 4, 5, 6}, all)

	ctx := context.Background()
	var batches [][]interface{}
	for {
		batch, ok, err := rs.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		batches = append(batches, batch)
	}
	require.Equal(t, [][]interface{}{{1, 2}, {3, 4}, {5, 6}}, batches)

	// All does not consume
	all, err = rs.All().ResultWithTimeout(time.Second)
	require.NoError(t, err)
	require.Len(t, all, 6)
}

func TestResultSetEmpty(t *testing.T) {
	rs := newResultSet(uuid.New())
	require.True(t, rs.complete(nil, nil))
	all, err := rs.All().ResultWithTimeout(time.Second)
	require.NoError(t, err)
	require.Empty(t, all)
	batch, err := rs.One(context.Background())
	require.NoError(t, err)
	require.Nil(t, batch)
}

func TestResultSetTerminalStateIsFinal(t *testing.T) {
	rs := newResultSet(uuid.New())
	rs.addBatch([]interface{}{"a"})
	failure := errors.NewServerError(597, "script failed", nil)
	require.True(t, rs.fail(failure))
	require.Equal(t, ResultDoneError, rs.State())

	require.False(t, rs.complete([]interface{}{"b"}, nil))
	require.False(t, rs.addBatch([]interface{}{"c"}))
	require.False(t, rs.fail(errors.New("another")))
	require.Equal(t, ResultDoneError, rs.State())
	require.Equal(t, failure, rs.Err())

	_, err := rs.All().ResultWithTimeout(time.Second)
	require.Equal(t, failure, err)

	// Batches received before the failure are still readable
	ctx := context.Background()
	batch, ok, err := rs.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []interface{}{"a"}, batch)
	_, ok, err = rs.Next(ctx)
	require.False(t, ok)
	require.Equal(t, failure, err)
}

func TestResultSetFailBeforeFirstResponse(t *testing.T) {
	rs := newResultSet(uuid.New())
	rs.fail(errors.NewConnectionClosedError("localhost"))
	_, err := rs.firstResponse().ResultWithTimeout(time.Second)
	require.True(t, errors.IsConnectionClosedError(err))
}

func TestResultSetNextWaitsForBatch(t *testing.T) {
	rs := newResultSet(uuid.New())
	go func() {
		time.Sleep(10 * time.Millisecond)
		rs.addBatch([]interface{}{"x"})
		rs.complete(nil, nil)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	batch, ok, err := rs.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []interface{}{"x"}, batch)
	require.NoError(t, rs.Wait(ctx))
	_, ok, err = rs.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResultSetNextTimeout(t *testing.T) {
	rs := newResultSet(uuid.New())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok, err := rs.Next(ctx)
	require.False(t, ok)
	require.True(t, errors.IsTimeoutError(err))
	require.Equal(t, ResultPending, rs.State())
}

func TestResultSetTimerStoppedOnCompletion(t *testing.T) {
	rs := newResultSet(uuid.New())
	fired := make(chan struct{}, 1)
	rs.setTimer(time.AfterFunc(50*time.Millisecond, func() {
		fired <- struct{}{}
	}))
	rs.complete(nil, nil)
	select {
	case <-fired:
		require.Fail(t, "timer should have been stopped")
	case <-time.After(100 * time.Millisecond):
	}

	// A timer set after completion is stopped straight away
	rs.setTimer(time.AfterFunc(10*time.Millisecond, func() {
		fired <- struct{}{}
	}))
	select {
	case <-fired:
		require.Fail(t, "timer should have been stopped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResultStateString(t *testing.T) {
	require.Equal(t, "PENDING", ResultPending.String())
	require.Equal(t, "PARTIAL", ResultPartial.String())
	require.Equal(t, "DONE_OK", ResultDoneOK.String())
	require.Equal(t, "DONE_ERROR", ResultDoneError.String())
	require.True(t, ResultDoneError.IsTerminal())
	require.False(t, ResultPartial.IsTerminal())
}
