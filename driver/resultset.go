package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ResultState int

const (
	ResultPending ResultState = iota
	ResultPartial
	ResultDoneOK
	ResultDoneError
)

func (s ResultState) String() string {
	switch s {
	case ResultPending:
		return "PENDING"
	case ResultPartial:
		return "PARTIAL"
	case ResultDoneOK:
		return "DONE_OK"
	case ResultDoneError:
		return "DONE_ERROR"
	default:
		return fmt.Sprintf("ResultState(%d)", int(s))
	}
}

func (s ResultState) IsTerminal() bool {
	return s == ResultDoneOK || s == ResultDoneError
}

/*
ResultSet accumulates the responses of one request.

Batches are appended by the connection that wrote the request, in the order the responses arrive, until a terminal
response (or a failure) moves the result set to DONE_OK or DONE_ERROR. The terminal state is set once and never
changes afterwards.

Any number of goroutines may read a ResultSet. Next consumes batches, so only one goroutine should iterate it.
*/
type ResultSet struct {
	requestID  uuid.UUID
	lock       sync.Mutex
	batches    [][]interface{}
	cursor     int
	state      ResultState
	err        error
	attributes map[string]interface{}
	// closed and replaced every time a batch is added or the state changes
	notify     chan struct{}
	all        *Promise[[]interface{}]
	firstFrame *Promise[*ResultSet]
	timer      *time.Timer
}

func newResultSet(requestID uuid.UUID) *ResultSet {
	return &ResultSet{
		requestID:  requestID,
		notify:     make(chan struct{}),
		all:        NewPromise[[]interface{}](),
		firstFrame: NewPromise[*ResultSet](),
	}
}

func (r *ResultSet) RequestID() uuid.UUID {
	return r.requestID
}

func (r *ResultSet) State() ResultState {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.state
}

// Done is a non-blocking check of whether the result set has reached a terminal state.
func (r *ResultSet) Done() bool {
	return r.State().IsTerminal()
}

// Err is the terminal error, nil unless the state is DONE_ERROR.
func (r *ResultSet) Err() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.err
}

// StatusAttributes are the attributes of the terminal status, e.g. the server host.
func (r *ResultSet) StatusAttributes() map[string]interface{} {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.attributes
}

// All returns a future which completes with every item in arrival order once the result set is done, or with its
// error. It does not consume batches.
func (r *ResultSet) All() *Future[[]interface{}] {
	return r.all.Future()
}

// Wait blocks until the result set is done and returns its error, or until the context is done.
func (r *ResultSet) Wait(ctx context.Context) error {
	_, err := r.all.Future().Result(ctx)
	return err
}

// Next returns the next unread batch, blocking until one arrives. ok is false once every batch has been read and
// the result set is done; err is then the terminal error. A failed result set still returns the batches that
// arrived before the failure first.
func (r *ResultSet) Next(ctx context.Context) (batch []interface{}, ok bool, err error) {
	for {
		r.lock.Lock()
		if r.cursor < len(r.batches) {
			batch = r.batches[r.cursor]
			r.cursor++
			r.lock.Unlock()
			return batch, true, nil
		}
		if r.state.IsTerminal() {
			err = r.err
			r.lock.Unlock()
			return nil, false, err
		}
		notify := r.notify
		r.lock.Unlock()
		select {
		case <-notify:
		case <-ctx.Done():
			return nil, false, contextError(ctx)
		}
	}
}

// One returns the next batch, nil when there are no more batches.
func (r *ResultSet) One(ctx context.Context) ([]interface{}, error) {
	batch, _, err := r.Next(ctx)
	return batch, err
}

// firstResponse completes when the first response for the request arrives, or fails when the result set fails
// before any response arrived.
func (r *ResultSet) firstResponse() *Future[*ResultSet] {
	return r.firstFrame.Future()
}

func (r *ResultSet) setTimer(timer *time.Timer) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.state.IsTerminal() {
		timer.Stop()
		return
	}
	r.timer = timer
}

// addBatch appends a partial content batch. Batches arriving after the terminal state are ignored.
func (r *ResultSet) addBatch(items []interface{}) bool {
	r.lock.Lock()
	if r.state.IsTerminal() {
		r.lock.Unlock()
		return false
	}
	if len(items) > 0 {
		r.batches = append(r.batches, items)
	}
	r.state = ResultPartial
	r.signalLocked()
	r.lock.Unlock()
	r.firstFrame.Complete(r)
	return true
}

// complete appends the final batch and moves the result set to DONE_OK.
func (r *ResultSet) complete(items []interface{}, attributes map[string]interface{}) bool {
	r.lock.Lock()
	if r.state.IsTerminal() {
		r.lock.Unlock()
		return false
	}
	if len(items) > 0 {
		r.batches = append(r.batches, items)
	}
	r.state = ResultDoneOK
	r.attributes = attributes
	all := make([]interface{}, 0, r.itemCountLocked())
	for _, batch := range r.batches {
		all = append(all, batch...)
	}
	r.stopTimerLocked()
	r.signalLocked()
	r.lock.Unlock()
	r.all.Complete(all)
	r.firstFrame.Complete(r)
	return true
}

// fail moves the result set to DONE_ERROR. Batches already received stay readable through Next.
func (r *ResultSet) fail(err error) bool {
	return r.failWithAttributes(err, nil)
}

func (r *ResultSet) failWithAttributes(err error, attributes map[string]interface{}) bool {
	r.lock.Lock()
	if r.state.IsTerminal() {
		r.lock.Unlock()
		return false
	}
	r.state = ResultDoneError
	r.err = err
	r.attributes = attributes
	r.stopTimerLocked()
	r.signalLocked()
	r.lock.Unlock()
	r.all.Fail(err)
	r.firstFrame.Fail(err)
	return true
}

func (r *ResultSet) itemCountLocked() int {
	count := 0
	for _, batch := range r.batches {
		count += len(batch)
	}
	return count
}

func (r *ResultSet) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *ResultSet) signalLocked() {
	close(r.notify)
	r.notify = make(chan struct{})
}
