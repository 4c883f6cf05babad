package transport

import (
	"context"

	"github.com/duckofyork/tinkerpop/errors"
)

// Transport is a single duplex, message oriented connection to a server. Write may be called concurrently with Read
// but callers must not call Write (or Read) concurrently with itself.
type Transport interface {
	Write(message []byte) error
	// Read blocks until the next inbound message arrives or the transport fails or is closed.
	Read() ([]byte, error)
	Close() error
}

// Factory dials a new Transport to the given address.
type Factory func(ctx context.Context, address string) (Transport, error)

type Server interface {
	SetHandler(handler RequestHandler)
	Address() string
	Start() error
	Stop() error
}

// ResponseWriter sends a message back to the client on the connection the request arrived on. It can be called any
// number of times for one request and from any goroutine.
type ResponseWriter func(message []byte) error

type RequestHandler func(ctx *ConnectionContext, request []byte, responseWriter ResponseWriter) error

type ConnectionContext struct {
	ConnectionID int
	closer       func()
}

// CloseConnection drops the connection from the server side. The client sees a transport failure.
func (c *ConnectionContext) CloseConnection() {
	c.closer()
}

// ErrTransportClosed is returned by Read and Write once the transport has been closed locally.
var ErrTransportClosed = errors.New("transport closed")
