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
	"golang.org/x/sync/semaphore"
)

// Client submits requests to a Gremlin server over a pool of pipelined connections.
//
// A request is bound to its connection when it is submitted, and requests bound to the same connection are written
// in submission order. Responses are correlated by request id, so results complete in the order the server answers
// them.
type Client struct {
	cfg        conf.ClientConf
	factory    transport.Factory
	serializer protocol.Serializer
	metrics    *metrics.DriverMetrics
	log        *logger.DriverLogger
	pool       *ConnectionPool
	inFlight   *semaphore.Weighted
	lock       sync.Mutex
	closed     bool
	dispatchWG sync.WaitGroup
}

type Option func(c *Client)

// WithTransportFactory replaces the default WebSocket transport.
func WithTransportFactory(factory transport.Factory) Option {
	return func(c *Client) {
		c.factory = factory
	}
}

// WithSerializer replaces the default GraphSON serializer.
func WithSerializer(serializer protocol.Serializer) Option {
	return func(c *Client) {
		c.serializer = serializer
	}
}

func WithMetrics(m *metrics.DriverMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client. No connection is made until the first request is submitted.
func NewClient(cfg conf.ClientConf, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		inFlight: semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.serializer == nil {
		serializer, err := protocol.NewGraphSONSerializer(cfg.SerializerVersion)
		if err != nil {
			return nil, err
		}
		c.serializer = serializer
	}
	if c.factory == nil {
		factory, err := transport.NewWebSocketFactory(&c.cfg)
		if err != nil {
			return nil, err
		}
		c.factory = factory
	}
	c.log = logger.MustGetLogger("client").With(zap.String("address", cfg.Endpoint))
	c.pool = NewConnectionPool(&c.cfg, c.factory, c.serializer, c.metrics)
	return c, nil
}

// Submit sends the request and blocks until every result has arrived.
func (c *Client) Submit(ctx context.Context, msg *protocol.RequestMessage) ([]interface{}, error) {
	rs, err := c.Stream(ctx, msg)
	if err != nil {
		return nil, err
	}
	return rs.All().Result(ctx)
}

// SubmitScript sends a script to be evaluated by the server and blocks until every result has arrived.
func (c *Client) SubmitScript(ctx context.Context, script string, bindings map[string]interface{}) ([]interface{}, error) {
	return c.Submit(ctx, protocol.NewEvalRequest(script, bindings))
}

// Stream sends the request and returns once it has been written, so results can be read as they arrive.
func (c *Client) Stream(ctx context.Context, msg *protocol.RequestMessage) (*ResultSet, error) {
	res, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer c.dispatchWG.Done()
	return c.dispatch(ctx, c.prepare(msg), res, nil)
}

// SubmitAsync returns without waiting for the request to be written. The returned future completes with the
// ResultSet once the first response for the request has arrived, or fails if the request could not be sent or
// failed before any response arrived. It is never completed by SubmitAsync itself.
//
// The context bounds the dispatch of the request, not the lifetime of its results.
func (c *Client) SubmitAsync(ctx context.Context, msg *protocol.RequestMessage) (*Future[*ResultSet], error) {
	res, err := c.begin()
	if err != nil {
		return nil, err
	}
	msg = c.prepare(msg)
	promise := NewPromise[*ResultSet]()
	common.Go("client-dispatch", func() {
		defer c.dispatchWG.Done()
		_, err := c.dispatch(ctx, msg, res, func(rs *ResultSet) {
			rs.firstResponse().OnComplete(func(rs *ResultSet, err error) {
				if err != nil {
					promise.Fail(err)
				} else {
					promise.Complete(rs)
				}
			})
		})
		if err != nil {
			promise.Fail(err)
		}
	})
	return promise.Future(), nil
}

// begin binds a new request to a pooled connection. It fails once the client is closed.
func (c *Client) begin() (*Reservation, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil, errors.WithStack(errors.NewClientClosedError())
	}
	res, err := c.pool.Reserve()
	if err != nil {
		return nil, err
	}
	c.dispatchWG.Add(1)
	return res, nil
}

// dispatch writes the request once every request reserved on the same connection before it has been written.
// onWritten, if not nil, is called with the ResultSet before the next request may be written on the connection.
func (c *Client) dispatch(ctx context.Context, msg *protocol.RequestMessage, res *Reservation,
	onWritten func(*ResultSet)) (*ResultSet, error) {
	defer res.Release()
	conn, err := res.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.inFlight.Acquire(ctx, 1); err != nil {
		return nil, contextError(ctx)
	}
	rs, err := conn.Write(msg)
	if err != nil {
		c.inFlight.Release(1)
		return nil, err
	}
	rs.All().OnComplete(func(_ []interface{}, _ error) {
		c.inFlight.Release(1)
	})
	if onWritten != nil {
		onWritten(rs)
	}
	if logger.DebugEnabled {
		c.log.Debugf("dispatched request %s on connection %d", msg.RequestID(), conn.ID())
	}
	return rs, nil
}

// prepare binds the traversal source and the session to the request.
func (c *Client) prepare(msg *protocol.RequestMessage) *protocol.RequestMessage {
	if _, ok := msg.Arg(protocol.ArgAliases); !ok {
		msg = msg.WithArg(protocol.ArgAliases, map[string]interface{}{"g": c.cfg.TraversalSource})
	}
	if c.cfg.Session != "" {
		if _, ok := msg.Arg(protocol.ArgSession); !ok {
			msg = msg.WithArg(protocol.ArgSession, c.cfg.Session)
		}
		if msg.Processor() == protocol.ProcessorStandard {
			msg = msg.WithProcessor(protocol.ProcessorSession)
		}
	}
	return msg
}

// Close closes every connection. Requests still waiting for results fail with ConnectionClosed and later submits
// fail with ClientClosed. Close is idempotent.
func (c *Client) Close() error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	var sessionRes *Reservation
	if c.cfg.Session != "" && c.pool.NumConnections() > 0 {
		if res, err := c.pool.Reserve(); err == nil {
			c.dispatchWG.Add(1)
			sessionRes = res
		}
	}
	c.lock.Unlock()
	if sessionRes != nil {
		c.closeSession(sessionRes)
	}
	err := c.pool.Close()
	c.dispatchWG.Wait()
	return err
}

// closeSession asks the server to release the session. Failures are logged, the session times out on the server
// anyway.
func (c *Client) closeSession(res *Reservation) {
	defer c.dispatchWG.Done()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectionTimeout)
	defer cancel()
	msg := protocol.NewRequestMessage(protocol.ProcessorSession, protocol.OpClose,
		protocol.NewArgs().Put(protocol.ArgSession, c.cfg.Session))
	rs, err := c.dispatch(ctx, msg, res, nil)
	if err == nil {
		err = rs.Wait(ctx)
	}
	if err != nil {
		c.log.Warnf("failed to close session %s: %v", c.cfg.Session, err)
	}
}
