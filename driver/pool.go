package driver

import (
	"context"
	"sync"

	"github.com/duckofyork/tinkerpop/common"
	"github.com/duckofyork/tinkerpop/conf"
	"github.com/duckofyork/tinkerpop/errors"
	"github.com/duckofyork/tinkerpop/logger"
	"github.com/duckofyork/tinkerpop/metrics"
	"github.com/duckofyork/tinkerpop/protocol"
	"github.com/duckofyork/tinkerpop/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

/*
ConnectionPool holds at most size connections to one address.

Connections are created lazily: while fewer than size connections exist (or are being dialed) Reserve adds a new one
and dials it in the background. Once the pool is full Reserve picks an existing connection, preferring open ones, even
if it has requests in flight, as connections are pipelined. Reserve never blocks. Failed connections are evicted and
replaced on a later Reserve.

Every connection keeps its own write order: requests reserved on a connection are written in the order they were
reserved. There is no order between connections, so a request reserved on an open connection never waits for another
connection to be dialed.
*/
type ConnectionPool struct {
	lock        sync.Mutex
	address     string
	size        int
	policy      string
	factory     transport.Factory
	serializer  protocol.Serializer
	connConf    connectionConf
	metrics     *metrics.DriverMetrics
	log         *logger.DriverLogger
	connections []*pooledConnection
	pos         int
	closed      bool
	dialCtx     context.Context
	cancelDials context.CancelFunc
	dialsWG     sync.WaitGroup
}

type pooledConnection struct {
	conn  *Connection
	order *dispatchOrder
	// reservations not yet released
	reserved int
	opened   bool
}

func (p *pooledConnection) load() int {
	return p.conn.PendingCount() + p.reserved
}

func NewConnectionPool(cfg *conf.ClientConf, factory transport.Factory, serializer protocol.Serializer,
	m *metrics.DriverMetrics) *ConnectionPool {
	dialCtx, cancel := context.WithCancel(context.Background())
	return &ConnectionPool{
		address:    cfg.Endpoint,
		size:       cfg.PoolSize,
		policy:     cfg.PoolPolicy,
		factory:    factory,
		serializer: serializer,
		connConf: connectionConf{
			connectionTimeout: cfg.ConnectionTimeout,
			requestTimeout:    cfg.RequestTimeout,
			writeTimeout:      cfg.WriteTimeout,
			writeQueueSize:    cfg.WriteQueueSize,
		},
		metrics:     m,
		log:         logger.MustGetLogger("pool").With(zap.String("address", cfg.Endpoint)),
		dialCtx:     dialCtx,
		cancelDials: cancel,
	}
}

// Reservation is a place in the write order of one pooled connection. It must be released with Release.
type Reservation struct {
	pool     *ConnectionPool
	pc       *pooledConnection
	ticket   uint64
	turn     bool
	gaveUp   bool
	released bool
}

// Reserve picks a connection for one request and takes the next place in its write order.
func (p *ConnectionPool) Reserve() (*Reservation, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil, errors.WithStack(errors.NewClientClosedError())
	}
	p.evictClosedLocked()
	var pc *pooledConnection
	if len(p.connections) < p.size {
		pc = p.addLocked()
	} else {
		pc = p.selectLocked()
	}
	pc.reserved++
	return &Reservation{pool: p, pc: pc, ticket: pc.order.take()}, nil
}

// addLocked adds a new connection to the pool and starts dialing it.
func (p *ConnectionPool) addLocked() *pooledConnection {
	conn := newConnection(p.address, p.factory, p.serializer, p.connConf, p.metrics, p.evict)
	pc := &pooledConnection{conn: conn, order: newDispatchOrder()}
	p.connections = append(p.connections, pc)
	p.dialsWG.Add(1)
	common.Go("pool-dial", func() {
		defer p.dialsWG.Done()
		p.dial(pc)
	})
	return pc
}

func (p *ConnectionPool) dial(pc *pooledConnection) {
	err := pc.conn.Open(p.dialCtx)
	p.lock.Lock()
	defer p.lock.Unlock()
	if err != nil {
		if !p.closed {
			p.log.Warnf("failed to open connection: %v", err)
		}
		p.removeLocked(pc.conn, false)
		return
	}
	if p.closed || !p.containsLocked(pc) {
		// Closed or failed in the meantime, whoever removed it closed it
		return
	}
	pc.opened = true
	p.metrics.ConnectionOpened()
	p.log.Debugf("opened connection %d, pool has %d connections", pc.conn.ID(), len(p.connections))
}

// selectLocked picks a connection according to the pool policy. Connections still being dialed are only picked if
// none is open.
func (p *ConnectionPool) selectLocked() *pooledConnection {
	candidates := make([]*pooledConnection, 0, len(p.connections))
	for _, pc := range p.connections {
		if pc.conn.State() == StateOpen {
			candidates = append(candidates, pc)
		}
	}
	if len(candidates) == 0 {
		candidates = p.connections
	}
	n := len(candidates)
	start := p.pos % n
	if p.policy == conf.PoolPolicyRoundRobin {
		p.pos = start + 1
		return candidates[start]
	}
	// Least pending, ties go to the first connection after the previously selected one
	best := -1
	bestLoad := 0
	for i := 0; i < n; i++ {
		index := (start + i) % n
		load := candidates[index].load()
		if best == -1 || load < bestLoad {
			best = index
			bestLoad = load
		}
	}
	p.pos = best + 1
	return candidates[best]
}

// Wait waits until the reserved connection is open and every request reserved on it before this one has been
// released. It returns the connection to write on.
func (r *Reservation) Wait(ctx context.Context) (*Connection, error) {
	if err := r.pc.conn.awaitOpen(ctx); err != nil {
		return nil, r.pool.closedOr(err)
	}
	if err := r.pc.order.wait(ctx, r.ticket); err != nil {
		// wait has given the place up
		r.gaveUp = true
		return nil, err
	}
	r.turn = true
	return r.pc.conn, nil
}

// Release passes the reservation's place in the write order on. It is called once the request has been written, or
// once it is known it will not be. Releasing more than once has no effect.
func (r *Reservation) Release() {
	if r.released {
		return
	}
	r.released = true
	if r.turn {
		r.pc.order.done(r.ticket)
	} else if !r.gaveUp {
		r.pc.order.abandon(r.ticket)
	}
	r.pool.lock.Lock()
	defer r.pool.lock.Unlock()
	r.pc.reserved--
	r.pool.evictClosedLocked()
}

// closedOr returns ClientClosed if the pool has been closed, and err otherwise.
func (p *ConnectionPool) closedOr(err error) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return errors.WithStack(errors.NewClientClosedError())
	}
	return err
}

// evict removes a failed connection. It is called by the connection's read or write loop so must not wait for them.
func (p *ConnectionPool) evict(conn *Connection) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.removeLocked(conn, true)
}

func (p *ConnectionPool) evictClosedLocked() {
	for i := 0; i < len(p.connections); i++ {
		if conn := p.connections[i].conn; conn.State() == StateClosed {
			p.removeLocked(conn, true)
			i--
		}
	}
}

func (p *ConnectionPool) removeLocked(conn *Connection, evicted bool) {
	for i, pc := range p.connections {
		if pc.conn == conn {
			p.connections = append(p.connections[:i], p.connections[i+1:]...)
			if pc.opened {
				p.metrics.ConnectionClosed(evicted)
				p.log.Infof("evicted connection %d, pool has %d connections", conn.ID(), len(p.connections))
			}
			return
		}
	}
}

func (p *ConnectionPool) containsLocked(pc *pooledConnection) bool {
	for _, other := range p.connections {
		if other == pc {
			return true
		}
	}
	return false
}

// NumConnections is the number of open connections in the pool.
func (p *ConnectionPool) NumConnections() int {
	return len(p.Connections())
}

// Connections returns the open connections in the pool.
func (p *ConnectionPool) Connections() []*Connection {
	p.lock.Lock()
	defer p.lock.Unlock()
	var conns []*Connection
	for _, pc := range p.connections {
		if pc.conn.State() == StateOpen {
			conns = append(conns, pc.conn)
		}
	}
	return conns
}

// Close closes every connection, including ones still being dialed, and waits for the dials to return. It is
// idempotent.
func (p *ConnectionPool) Close() error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*Connection, 0, len(p.connections))
	for _, pc := range p.connections {
		conns = append(conns, pc.conn)
		if pc.opened {
			p.metrics.ConnectionClosed(false)
		}
	}
	p.connections = nil
	p.lock.Unlock()
	p.cancelDials()
	var g errgroup.Group
	for _, conn := range conns {
		g.Go(conn.Close)
	}
	err := g.Wait()
	p.dialsWG.Wait()
	return err
}
