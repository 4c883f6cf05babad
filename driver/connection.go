package driver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/duckofyork/tinkerpop/common"
	"github.com/duckofyork/tinkerpop/errors"
	"github.com/duckofyork/tinkerpop/logger"
	"github.com/duckofyork/tinkerpop/metrics"
	"github.com/duckofyork/tinkerpop/protocol"
	"github.com/duckofyork/tinkerpop/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

var connectionIDSequence int64

type connectionConf struct {
	connectionTimeout time.Duration
	requestTimeout    time.Duration
	writeTimeout      time.Duration
	writeQueueSize    int
}

/*
Connection multiplexes any number of outstanding requests over one transport.

Requests are written in call order by a single write loop. A single read loop decodes every inbound message and
routes it to the ResultSet registered under its request id. The read loop is the only writer of the result state of
the requests registered on the connection.
*/
type Connection struct {
	id         int64
	address    string
	factory    transport.Factory
	serializer protocol.Serializer
	conf       connectionConf
	metrics    *metrics.DriverMetrics
	log        *logger.DriverLogger
	// called once if the connection fails, not when it is closed with Close
	onFailed   func(*Connection)

	opening atomic.Bool
	// closed once Open has returned, openErr is its result
	openChan chan struct{}
	openErr  error

	lock      sync.RWMutex
	state     ConnectionState
	transport transport.Transport
	pending   map[uuid.UUID]*ResultSet
	writeChan chan queuedWrite
	closeChan chan struct{}
	loopsWG   sync.WaitGroup
}

type queuedWrite struct {
	requestID uuid.UUID
	message   []byte
}

func newConnection(address string, factory transport.Factory, serializer protocol.Serializer, conf connectionConf,
	m *metrics.DriverMetrics, onFailed func(*Connection)) *Connection {
	id := atomic.AddInt64(&connectionIDSequence, 1)
	return &Connection{
		id:         id,
		address:    address,
		factory:    factory,
		serializer: serializer,
		conf:       conf,
		metrics:    m,
		log:        logger.MustGetLogger("connection").With(zap.Int64("connection_id", id), zap.String("address", address)),
		onFailed:   onFailed,
		state:      StateConnecting,
		pending:    map[uuid.UUID]*ResultSet{},
		openChan:   make(chan struct{}),
		writeChan:  make(chan queuedWrite, conf.writeQueueSize),
		closeChan:  make(chan struct{}),
	}
}

func (c *Connection) ID() int64 {
	return c.id
}

func (c *Connection) Address() string {
	return c.address
}

func (c *Connection) State() ConnectionState {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.state
}

// PendingCount is the number of requests written and not yet done.
func (c *Connection) PendingCount() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.pending)
}

// Open dials the transport, retrying transient failures until the connection timeout expires, and starts the read
// and write loops. A connection can only be opened once.
func (c *Connection) Open(ctx context.Context) error {
	if !c.opening.CompareAndSwap(false, true) {
		return errors.NewDriverErrorf(errors.InternalError, "cannot open connection in state %s", c.State())
	}
	err := c.open(ctx)
	c.lock.Lock()
	c.openErr = err
	c.lock.Unlock()
	close(c.openChan)
	return err
}

// awaitOpen waits for Open to return and returns its error. It fails as soon as the connection is closed.
func (c *Connection) awaitOpen(ctx context.Context) error {
	select {
	case <-c.openChan:
		c.lock.RLock()
		defer c.lock.RUnlock()
		return c.openErr
	case <-c.closeChan:
		return errors.WithStack(errors.NewConnectionClosedError(c.address))
	case <-ctx.Done():
		return contextError(ctx)
	}
}

func (c *Connection) open(ctx context.Context) error {
	if state := c.State(); state != StateConnecting {
		return errors.NewDriverErrorf(errors.InternalError, "cannot open connection in state %s", state)
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.conf.connectionTimeout)
	defer cancel()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = c.conf.connectionTimeout
	tr, err := backoff.RetryNotifyWithData[transport.Transport](func() (transport.Transport, error) {
		return c.factory(dialCtx, c.address)
	}, backoff.WithContext(policy, dialCtx), func(err error, delay time.Duration) {
		c.log.Debugf("failed to connect, retrying in %s: %v", delay, err)
	})
	if err != nil {
		c.lock.Lock()
		c.state = StateClosed
		c.lock.Unlock()
		return errors.WithStack(errors.NewConnectionError(c.address, err))
	}
	c.lock.Lock()
	if c.state == StateClosed {
		// Closed while dialing
		c.lock.Unlock()
		if err := tr.Close(); err != nil {
			c.log.Debugf("failed to close transport: %v", err)
		}
		return errors.WithStack(errors.NewConnectionClosedError(c.address))
	}
	c.state = StateOpen
	c.transport = tr
	c.loopsWG.Add(2)
	c.lock.Unlock()
	common.Go("connection-write-loop", func() {
		defer c.loopsWG.Done()
		c.writeLoop(tr)
	})
	common.Go("connection-read-loop", func() {
		defer c.loopsWG.Done()
		c.readLoop(tr)
	})
	c.log.Debugf("connection opened")
	return nil
}

// Write registers a ResultSet for the request and queues it for writing. It returns without waiting for the write.
func (c *Connection) Write(msg *protocol.RequestMessage) (*ResultSet, error) {
	requestID := msg.RequestID()
	if state := c.State(); state != StateOpen {
		return nil, errors.WithStack(errors.NewNotConnectedError(c.address))
	}
	buff, err := c.serializer.SerializeRequest(msg)
	if err != nil {
		if !errors.IsProtocolError(err) {
			err = errors.NewProtocolErrorf("failed to serialize request %s: %v", requestID, err)
		}
		return nil, errors.WithStack(err)
	}
	rs := newResultSet(requestID)
	c.lock.Lock()
	if c.state != StateOpen {
		c.lock.Unlock()
		return nil, errors.WithStack(errors.NewNotConnectedError(c.address))
	}
	if _, exists := c.pending[requestID]; exists {
		c.lock.Unlock()
		return nil, errors.WithStack(errors.NewProtocolErrorf("request %s is already in flight", requestID))
	}
	c.pending[requestID] = rs
	c.lock.Unlock()

	c.metrics.RequestStarted()
	start := time.Now()
	rs.All().OnComplete(func(_ []interface{}, err error) {
		c.metrics.RequestCompleted(outcomeOf(err), time.Since(start))
	})
	if c.conf.requestTimeout > 0 {
		timeout := c.conf.requestTimeout
		rs.setTimer(time.AfterFunc(timeout, func() {
			c.failRequest(requestID, errors.NewDriverErrorf(errors.Timeout, "request %s timed out after %s", requestID, timeout))
		}))
	}
	if err := c.queueWrite(queuedWrite{requestID: requestID, message: buff}); err != nil {
		c.failRequest(requestID, err)
		return nil, err
	}
	return rs, nil
}

func (c *Connection) queueWrite(write queuedWrite) error {
	timer := time.NewTimer(c.conf.writeTimeout)
	defer timer.Stop()
	select {
	case c.writeChan <- write:
		return nil
	case <-c.closeChan:
		return errors.WithStack(errors.NewConnectionClosedError(c.address))
	case <-timer.C:
		c.log.Warn("timed out waiting to queue write")
		return errors.WithStack(errors.NewDriverErrorf(errors.Timeout, "timed out waiting to write to %s", c.address))
	}
}

func (c *Connection) writeLoop(tr transport.Transport) {
	for {
		select {
		case <-c.closeChan:
			return
		case write := <-c.writeChan:
			if err := tr.Write(write.message); err != nil {
				c.log.Debugf("failed to write request %s", write.requestID)
				c.transportFailed(err)
				return
			}
		}
	}
}

func (c *Connection) readLoop(tr transport.Transport) {
	for {
		message, err := tr.Read()
		if err != nil {
			c.transportFailed(err)
			return
		}
		c.handleMessage(message)
	}
}

func (c *Connection) handleMessage(message []byte) {
	resp, err := c.serializer.DeserializeResponse(message)
	if err != nil {
		if resp == nil {
			c.log.Warnf("dropping undecodable response: %v", err)
			return
		}
		if !errors.IsProtocolError(err) {
			err = errors.NewProtocolErrorf("failed to decode response for request %s: %v", resp.RequestID, err)
		}
		if !c.failRequest(resp.RequestID, err) {
			c.log.Warnf("dropping undecodable response for unknown request %s: %v", resp.RequestID, err)
		}
		return
	}
	terminal := resp.Status.Code.IsTerminal()
	c.lock.Lock()
	rs, ok := c.pending[resp.RequestID]
	if ok && terminal {
		delete(c.pending, resp.RequestID)
	}
	c.lock.Unlock()
	if !ok {
		c.log.Warnf("dropping response with status %d for unknown request %s", resp.Status.Code, resp.RequestID)
		return
	}
	switch resp.Status.Code {
	case protocol.StatusPartialContent:
		rs.addBatch(resp.Data)
	case protocol.StatusSuccess, protocol.StatusNoContent:
		rs.complete(resp.Data, resp.Status.Attributes)
	default:
		rs.failWithAttributes(errors.NewServerError(int(resp.Status.Code), resp.Status.Message, resp.Status.Attributes),
			resp.Status.Attributes)
	}
}

// failRequest removes the request from pending and fails its ResultSet. It returns false if the request is not
// pending.
func (c *Connection) failRequest(requestID uuid.UUID, err error) bool {
	c.lock.Lock()
	rs, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.lock.Unlock()
	if !ok {
		return false
	}
	return rs.fail(err)
}

// transportFailed is called by the loops when the transport can no longer be used. Every pending request fails with
// a ConnectionError and the owner is notified so it can evict the connection.
func (c *Connection) transportFailed(cause error) {
	pending, first := c.markClosed()
	if !first {
		// Closed by Close, or already failed by the other loop
		return
	}
	c.log.Warnf("connection failed: %v", cause)
	c.closeTransport()
	failAll(pending, errors.NewConnectionError(c.address, cause))
	if c.onFailed != nil {
		c.onFailed(c)
	}
}

// Close closes the transport and fails every pending request with ConnectionClosed. It is idempotent.
func (c *Connection) Close() error {
	pending, first := c.markClosed()
	if first {
		c.closeTransport()
		failAll(pending, errors.NewConnectionClosedError(c.address))
		c.log.Debugf("connection closed, failed %d pending requests", len(pending))
	}
	c.loopsWG.Wait()
	return nil
}

func (c *Connection) markClosed() (map[uuid.UUID]*ResultSet, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state == StateClosed {
		return nil, false
	}
	c.state = StateClosed
	pending := c.pending
	c.pending = map[uuid.UUID]*ResultSet{}
	close(c.closeChan)
	return pending, true
}

func (c *Connection) closeTransport() {
	c.lock.RLock()
	tr := c.transport
	c.lock.RUnlock()
	if tr == nil {
		return
	}
	if err := tr.Close(); err != nil {
		c.log.Debugf("failed to close transport: %v", err)
	}
}

func failAll(pending map[uuid.UUID]*ResultSet, err error) {
	for _, rs := range pending {
		rs.fail(errors.WithStack(err))
	}
}

func outcomeOf(err error) string {
	var derr errors.DriverError
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if !errors.As(err, &derr) {
		return metrics.OutcomeConnectionError
	}
	switch derr.Code {
	case errors.ServerError:
		return metrics.OutcomeServerError
	case errors.ProtocolError:
		return metrics.OutcomeProtocolError
	case errors.Timeout:
		return metrics.OutcomeTimeout
	case errors.ConnectionClosed, errors.ClientClosed:
		return metrics.OutcomeClosed
	default:
		return metrics.OutcomeConnectionError
	}
}
