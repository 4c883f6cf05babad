package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/duckofyork/tinkerpop/common"
	"github.com/duckofyork/tinkerpop/conf"
	"github.com/duckofyork/tinkerpop/errors"
	log "github.com/duckofyork/tinkerpop/logger"
	"github.com/gorilla/websocket"
)

// WebSocketTransport carries each request and response as one binary WebSocket message.
type WebSocketTransport struct {
	conn         *websocket.Conn
	writeLock    sync.Mutex
	writeTimeout time.Duration
	closeLock    sync.Mutex
	closed       bool
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocketFactory returns a Factory which dials WebSocket connections configured from cfg.
func NewWebSocketFactory(cfg *conf.ClientConf) (Factory, error) {
	dialer := &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  cfg.ConnectionTimeout,
		EnableCompression: cfg.EnableCompression,
	}
	if cfg.TLS.Enabled {
		tlsConf, err := cfg.TLS.ToGoTlsConf()
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsConf
	}
	writeTimeout := cfg.WriteTimeout
	maxContentLength := cfg.MaxContentLength
	return func(ctx context.Context, address string) (Transport, error) {
		conn, resp, err := dialer.DialContext(ctx, address, nil)
		if resp != nil && resp.Body != nil {
			if err := resp.Body.Close(); err != nil {
				log.Debugf("failed to close handshake response body: %v", err)
			}
		}
		if err != nil {
			if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
				return nil, errors.Wrapf(err, "websocket handshake with %s failed with HTTP status %d", address, resp.StatusCode)
			}
			return nil, errors.WithStack(err)
		}
		if maxContentLength > 0 {
			conn.SetReadLimit(maxContentLength)
		}
		return &WebSocketTransport{conn: conn, writeTimeout: writeTimeout}, nil
	}, nil
}

func (w *WebSocketTransport) Write(message []byte) error {
	w.writeLock.Lock()
	defer w.writeLock.Unlock()
	if w.isClosed() {
		return ErrTransportClosed
	}
	if w.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(w.conn.WriteMessage(websocket.BinaryMessage, message))
}

func (w *WebSocketTransport) Read() ([]byte, error) {
	for {
		msgType, message, err := w.conn.ReadMessage()
		if err != nil {
			if w.isClosed() {
				return nil, ErrTransportClosed
			}
			return nil, errors.WithStack(err)
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return message, nil
		}
	}
}

func (w *WebSocketTransport) Close() error {
	w.closeLock.Lock()
	if w.closed {
		w.closeLock.Unlock()
		return nil
	}
	w.closed = true
	w.closeLock.Unlock()
	// Best effort close frame, the peer may already be gone
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Debugf("failed to send websocket close frame: %v", err)
	}
	return w.conn.Close()
}

func (w *WebSocketTransport) isClosed() bool {
	w.closeLock.Lock()
	defer w.closeLock.Unlock()
	return w.closed
}

// WebSocketServer accepts WebSocket connections on Path and passes each inbound message to the handler. It is used
// by test servers and the console's local mode.
type WebSocketServer struct {
	lock           sync.Mutex
	listenAddress  string
	path           string
	tlsConf        *tls.Config
	handler        RequestHandler
	upgrader       websocket.Upgrader
	listener       net.Listener
	httpServer     *http.Server
	connections    map[int]*serverConnection
	connIDSequence int
	started        bool
	stopWG         sync.WaitGroup
}

var _ Server = (*WebSocketServer)(nil)

// NewWebSocketServer creates a server listening on listenAddress, e.g. "127.0.0.1:0".
func NewWebSocketServer(listenAddress string, path string, tlsConf *tls.Config) *WebSocketServer {
	return &WebSocketServer{
		listenAddress: listenAddress,
		path:          path,
		tlsConf:       tlsConf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		connections: map[int]*serverConnection{},
	}
}

func (s *WebSocketServer) SetHandler(handler RequestHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handler = handler
}

func (s *WebSocketServer) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return nil
	}
	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return errors.WithStack(err)
	}
	if s.tlsConf != nil {
		listener = tls.NewListener(listener, s.tlsConf)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	s.listener = listener
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.stopWG.Add(1)
	common.Go("websocket-server-serve", func() {
		defer s.stopWG.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("websocket server stopped: %v", err)
		}
	})
	s.started = true
	return nil
}

func (s *WebSocketServer) Stop() error {
	s.lock.Lock()
	if !s.started {
		s.lock.Unlock()
		return nil
	}
	s.started = false
	conns := make([]*serverConnection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	httpServer := s.httpServer
	s.lock.Unlock()
	// Hijacked connections are not closed by http.Server.Close
	err := httpServer.Close()
	for _, conn := range conns {
		conn.close()
	}
	s.stopWG.Wait()
	return errors.WithStack(err)
}

// Address is the URL clients dial, only valid after Start.
func (s *WebSocketServer) Address() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	scheme := "ws"
	if s.tlsConf != nil {
		scheme = "wss"
	}
	addr := s.listenAddress
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return scheme + "://" + addr + s.path
}

// CloseConnections drops every open connection from the server side.
func (s *WebSocketServer) CloseConnections() {
	s.lock.Lock()
	conns := make([]*serverConnection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	s.lock.Unlock()
	for _, conn := range conns {
		conn.close()
	}
}

func (s *WebSocketServer) NumConnections() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.connections)
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error to the client
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	s.lock.Lock()
	if !s.started {
		s.lock.Unlock()
		_ = conn.Close()
		return
	}
	s.connIDSequence++
	sc := &serverConnection{id: s.connIDSequence, conn: conn, server: s}
	s.connections[sc.id] = sc
	s.stopWG.Add(1)
	s.lock.Unlock()
	common.Go("websocket-server-conn", func() {
		defer s.stopWG.Done()
		sc.readLoop()
	})
}

func (s *WebSocketServer) getHandler() RequestHandler {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.handler
}

func (s *WebSocketServer) removeConnection(id int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.connections, id)
}

type serverConnection struct {
	id        int
	conn      *websocket.Conn
	server    *WebSocketServer
	writeLock sync.Mutex
	closeOnce sync.Once
}

func (c *serverConnection) readLoop() {
	defer c.close()
	ctx := &ConnectionContext{ConnectionID: c.id, closer: c.close}
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("websocket server connection %d read failed: %v", c.id, err)
			}
			return
		}
		handler := c.server.getHandler()
		if handler == nil {
			log.Warnf("no handler registered, dropping connection %d", c.id)
			return
		}
		if err := handler(ctx, message, c.write); err != nil {
			log.Errorf("failed to handle request on connection %d: %v", c.id, err)
			return
		}
	}
}

func (c *serverConnection) write(message []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return errors.WithStack(c.conn.WriteMessage(websocket.BinaryMessage, message))
}

func (c *serverConnection) close() {
	c.closeOnce.Do(func() {
		c.server.removeConnection(c.id)
		if err := c.conn.Close(); err != nil {
			log.Debugf("failed to close websocket server connection %d: %v", c.id, err)
		}
	})
}
