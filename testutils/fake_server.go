//go:build !release

package testutils

import (
	"sync"
	"testing"
	"time"

	"github.com/duckofyork/tinkerpop/common"
	"github.com/duckofyork/tinkerpop/protocol"
	"github.com/duckofyork/tinkerpop/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Reply describes how the fake server answers one request.
type Reply struct {
	Items []interface{}
	// BatchSize splits Items over partial content responses followed by a terminal response holding the last batch.
	// 0 sends every item in the terminal response.
	BatchSize int
	// Status of the terminal response. 0 means 200, or 204 when there are no items.
	Status     protocol.StatusCode
	Message    string
	Attributes map[string]interface{}
	// Delay before the first response and between batches. With Concurrent false the connection is blocked meanwhile,
	// so requests on one connection are answered in order.
	Delay time.Duration
	// Concurrent answers on a separate goroutine so later requests on the connection can overtake this one.
	Concurrent bool
	// Raw messages written before the responses.
	Raw [][]byte
	// DropConnection closes the connection instead of answering.
	DropConnection bool
	// NoResponse never answers the request.
	NoResponse bool
}

// Responder decides the reply for each request.
type Responder func(req *protocol.RequestMessage) Reply

// ReceivedRequest is a request as seen by the fake server.
type ReceivedRequest struct {
	ConnectionID int
	Request      *protocol.RequestMessage
}

// FakeServer is a Gremlin server double. It decodes GraphSON requests and answers them as its Responder says, over
// any transport.Server.
type FakeServer struct {
	serializer *protocol.GraphSONSerializer
	lock       sync.Mutex
	responder  Responder
	requests   []ReceivedRequest
	wg         sync.WaitGroup
}

func NewFakeServer(serializerVersion int, responder Responder) *FakeServer {
	serializer, err := protocol.NewGraphSONSerializer(serializerVersion)
	if err != nil {
		panic(err)
	}
	return &FakeServer{serializer: serializer, responder: responder}
}

// ItemsResponder answers every request with items split into batches of batchSize.
func ItemsResponder(items []interface{}, batchSize int) Responder {
	return func(req *protocol.RequestMessage) Reply {
		return Reply{Items: items, BatchSize: batchSize}
	}
}

func (f *FakeServer) SetResponder(responder Responder) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.responder = responder
}

// Requests returns the requests received so far, in arrival order.
func (f *FakeServer) Requests() []ReceivedRequest {
	f.lock.Lock()
	defer f.lock.Unlock()
	reqs := make([]ReceivedRequest, len(f.requests))
	copy(reqs, f.requests)
	return reqs
}

// ConnectionIDs returns the distinct ids of the connections requests arrived on.
func (f *FakeServer) ConnectionIDs() map[int]struct{} {
	ids := map[int]struct{}{}
	for _, req := range f.Requests() {
		ids[req.ConnectionID] = struct{}{}
	}
	return ids
}

// Wait waits for concurrent replies to finish.
func (f *FakeServer) Wait() {
	f.wg.Wait()
}

// Handle is the transport.RequestHandler of the fake server.
func (f *FakeServer) Handle(ctx *transport.ConnectionContext, request []byte, responseWriter transport.ResponseWriter) error {
	req, err := f.serializer.DeserializeRequest(request)
	if err != nil {
		return err
	}
	f.lock.Lock()
	f.requests = append(f.requests, ReceivedRequest{ConnectionID: ctx.ConnectionID, Request: req})
	responder := f.responder
	f.lock.Unlock()
	reply := responder(req)
	if reply.DropConnection {
		ctx.CloseConnection()
		return nil
	}
	if reply.NoResponse {
		return nil
	}
	if reply.Concurrent {
		f.wg.Add(1)
		common.Go("fake-server-reply", func() {
			defer f.wg.Done()
			// The client may have gone away by now
			_ = f.reply(req.RequestID(), reply, responseWriter)
		})
		return nil
	}
	return f.reply(req.RequestID(), reply, responseWriter)
}

func (f *FakeServer) reply(requestID uuid.UUID, reply Reply, responseWriter transport.ResponseWriter) error {
	for _, raw := range reply.Raw {
		if err := responseWriter(raw); err != nil {
			return err
		}
	}
	for _, resp := range f.responses(requestID, reply) {
		if reply.Delay > 0 {
			time.Sleep(reply.Delay)
		}
		buff, err := f.serializer.SerializeResponse(resp)
		if err != nil {
			return err
		}
		if err := responseWriter(buff); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeServer) responses(requestID uuid.UUID, reply Reply) []*protocol.Response {
	var batches [][]interface{}
	if reply.BatchSize > 0 {
		for start := 0; start < len(reply.Items); start += reply.BatchSize {
			end := start + reply.BatchSize
			if end > len(reply.Items) {
				end = len(reply.Items)
			}
			batches = append(batches, reply.Items[start:end])
		}
	} else if len(reply.Items) > 0 {
		batches = append(batches, reply.Items)
	}
	status := reply.Status
	if status == 0 {
		status = protocol.StatusSuccess
		if len(reply.Items) == 0 {
			status = protocol.StatusNoContent
		}
	}
	var resps []*protocol.Response
	for i := 0; i < len(batches)-1; i++ {
		resps = append(resps, &protocol.Response{
			RequestID: requestID,
			Status:    protocol.Status{Code: protocol.StatusPartialContent},
			Data:      batches[i],
		})
	}
	var last []interface{}
	if len(batches) > 0 {
		last = batches[len(batches)-1]
	}
	return append(resps, &protocol.Response{
		RequestID: requestID,
		Status:    protocol.Status{Code: status, Message: reply.Message, Attributes: reply.Attributes},
		Data:      last,
	})
}

// StartLocal registers the fake server as a new in-process server and returns it.
func (f *FakeServer) StartLocal(t *testing.T, transports *transport.LocalTransports) *transport.LocalServer {
	t.Helper()
	server, err := transports.NewLocalServer(uuid.New().String())
	require.NoError(t, err)
	server.SetHandler(f.Handle)
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
		f.Wait()
	})
	return server
}

// StartWebSocket starts the fake server on a WebSocket server listening on a random local port.
func (f *FakeServer) StartWebSocket(t *testing.T) *transport.WebSocketServer {
	t.Helper()
	server := transport.NewWebSocketServer("127.0.0.1:0", "/gremlin", nil)
	server.SetHandler(f.Handle)
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
		f.Wait()
	})
	return server
}
