package driver

import (
	"context"
	"sync"
)

// dispatchOrder makes requests reach a connection in the order they were bound to it, even though each is dispatched
// on its own goroutine. A ticket is taken when the request is bound; the holder may only write once every earlier
// ticket has been written or abandoned.
type dispatchOrder struct {
	lock        sync.Mutex
	nextTicket  uint64
	turn        uint64
	abandoned   map[uint64]struct{}
	// closed and replaced every time the turn moves
	turnChanged chan struct{}
}

func newDispatchOrder() *dispatchOrder {
	return &dispatchOrder{
		abandoned:   map[uint64]struct{}{},
		turnChanged: make(chan struct{}),
	}
}

func (d *dispatchOrder) take() uint64 {
	d.lock.Lock()
	defer d.lock.Unlock()
	ticket := d.nextTicket
	d.nextTicket++
	return ticket
}

// wait blocks until it is the ticket's turn. If the context is done first the ticket is abandoned.
func (d *dispatchOrder) wait(ctx context.Context, ticket uint64) error {
	for {
		d.lock.Lock()
		if d.turn == ticket {
			d.lock.Unlock()
			return nil
		}
		turnChanged := d.turnChanged
		d.lock.Unlock()
		select {
		case <-turnChanged:
		case <-ctx.Done():
			d.abandon(ticket)
			return contextError(ctx)
		}
	}
}

// done passes the turn on. Only the holder of the current turn may call it.
func (d *dispatchOrder) done(ticket uint64) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.turn != ticket {
		panic("dispatch turn passed on by a ticket that does not hold it")
	}
	d.advanceLocked()
}

// abandon gives up a ticket without writing. It can be called whether or not it is the ticket's turn.
func (d *dispatchOrder) abandon(ticket uint64) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.turn == ticket {
		d.advanceLocked()
		return
	}
	d.abandoned[ticket] = struct{}{}
}

func (d *dispatchOrder) advanceLocked() {
	d.turn++
	for {
		if _, ok := d.abandoned[d.turn]; !ok {
			break
		}
		delete(d.abandoned, d.turn)
		d.turn++
	}
	close(d.turnChanged)
	d.turnChanged = make(chan struct{})
}
