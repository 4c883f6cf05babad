package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/duckofyork/tinkerpop/common"
	"github.com/duckofyork/tinkerpop/errors"
	log "github.com/duckofyork/tinkerpop/logger"
)

// LocalServer is a Server implementation that is only used where the client and server are in the same process. It
// is mainly used in testing.
type LocalServer struct {
	lock        sync.RWMutex
	address     string
	handler     RequestHandler
	transports  *LocalTransports
	connections map[int]*LocalConnection
	refuse      bool
}

var _ Server = (*LocalServer)(nil)

func (l *LocalServer) SetHandler(handler RequestHandler) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.handler = handler
}

func (l *LocalServer) Address() string {
	return l.address
}

func (l *LocalServer) Start() error {
	return nil
}

// Stop drops every open connection and unregisters the server address.
func (l *LocalServer) Stop() error {
	l.transports.removeServer(l.address)
	l.CloseConnections()
	return nil
}

// CloseConnections drops every open connection from the server side.
func (l *LocalServer) CloseConnections() {
	l.lock.Lock()
	conns := make([]*LocalConnection, 0, len(l.connections))
	for _, conn := range l.connections {
		conns = append(conns, conn)
	}
	l.lock.Unlock()
	for _, conn := range conns {
		conn.closeChannel()
	}
}

// SetRefuseConnections makes subsequent dials to the server fail.
func (l *LocalServer) SetRefuseConnections(refuse bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.refuse = refuse
}

func (l *LocalServer) NumConnections() int {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return len(l.connections)
}

func (l *LocalServer) addConnection(conn *LocalConnection) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.refuse {
		return errors.Errorf("connection refused by %s", l.address)
	}
	l.connections[conn.id] = conn
	return nil
}

func (l *LocalServer) removeConnection(id int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.connections, id)
}

func (l *LocalServer) getHandler() RequestHandler {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.handler
}

// LocalConnection is the client side of an in-process connection. Requests are delivered to the server handler, in
// order, by a single deliver loop.
type LocalConnection struct {
	lock      sync.Mutex
	stopped   bool
	id        int
	server    *LocalServer
	msgChan   chan []byte
	inbound   chan []byte
	closeChan chan struct{}
	stopWG    sync.WaitGroup
}

var _ Transport = (*LocalConnection)(nil)

func (l *LocalConnection) start() {
	l.stopWG.Add(1)
	common.Go("local-transport-deliver", l.deliverLoop)
}

func (l *LocalConnection) deliverLoop() {
	defer l.stopWG.Done()
	ctx := &ConnectionContext{ConnectionID: l.id, closer: l.closeChannel}
	for {
		select {
		case <-l.closeChan:
			return
		case msg := <-l.msgChan:
			handler := l.server.getHandler()
			if handler == nil {
				log.Warnf("no handler registered at %s, dropping connection %d", l.server.address, l.id)
				l.closeChannel()
				return
			}
			if err := handler(ctx, msg, l.respond); err != nil {
				log.Errorf("failed to handle request on connection %d: %v", l.id, err)
				l.closeChannel()
				return
			}
		}
	}
}

func (l *LocalConnection) respond(message []byte) error {
	msgCopy := common.ByteSliceCopy(message)
	select {
	case l.inbound <- msgCopy:
		return nil
	case <-l.closeChan:
		return ErrTransportClosed
	}
}

func (l *LocalConnection) Write(message []byte) error {
	l.lock.Lock()
	stopped := l.stopped
	l.lock.Unlock()
	if stopped {
		return ErrTransportClosed
	}
	msgCopy := common.ByteSliceCopy(message)
	select {
	case l.msgChan <- msgCopy:
		return nil
	case <-l.closeChan:
		return ErrTransportClosed
	}
}

func (l *LocalConnection) Read() ([]byte, error) {
	select {
	case msg := <-l.inbound:
		return msg, nil
	case <-l.closeChan:
		return nil, ErrTransportClosed
	}
}

func (l *LocalConnection) Close() error {
	l.closeChannel()
	l.stopWG.Wait()
	return nil
}

// closeChannel stops the connection without waiting for the deliver loop, so it is safe to call from a handler.
func (l *LocalConnection) closeChannel() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.closeChan)
	l.server.removeConnection(l.id)
}

func NewLocalTransports() *LocalTransports {
	return &LocalTransports{
		servers: map[string]*LocalServer{},
	}
}

// LocalTransports is a registry of in-process servers by address.
type LocalTransports struct {
	lock                 sync.RWMutex
	servers              map[string]*LocalServer
	connectionIDSequence int64
}

// Factory returns a transport Factory which connects to servers in this registry.
func (lt *LocalTransports) Factory() Factory {
	return lt.CreateConnection
}

func (lt *LocalTransports) CreateConnection(ctx context.Context, address string) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	server, err := lt.getServer(address)
	if err != nil {
		return nil, err
	}
	lc := &LocalConnection{
		id:        int(atomic.AddInt64(&lt.connectionIDSequence, 1)),
		server:    server,
		msgChan:   make(chan []byte, 10),
		inbound:   make(chan []byte, 10),
		closeChan: make(chan struct{}),
	}
	if err := server.addConnection(lc); err != nil {
		return nil, err
	}
	lc.start()
	return lc, nil
}

func (lt *LocalTransports) NewLocalServer(address string) (*LocalServer, error) {
	lt.lock.Lock()
	defer lt.lock.Unlock()
	_, exists := lt.servers[address]
	if exists {
		return nil, errors.Errorf("server already exists for address %s", address)
	}
	server := &LocalServer{
		address:     address,
		transports:  lt,
		connections: map[int]*LocalConnection{},
	}
	lt.servers[address] = server
	return server, nil
}

func (lt *LocalTransports) getServer(address string) (*LocalServer, error) {
	lt.lock.RLock()
	defer lt.lock.RUnlock()
	server, ok := lt.servers[address]
	if !ok {
		return nil, errors.Errorf("no server found for address %s", address)
	}
	return server, nil
}

func (lt *LocalTransports) removeServer(address string) {
	lt.lock.Lock()
	defer lt.lock.Unlock()
	delete(lt.servers, address)
}
