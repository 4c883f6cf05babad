package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/duckofyork/tinkerpop/conf"
	"github.com/duckofyork/tinkerpop/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testServer interface {
	Server
	CloseConnections()
	NumConnections() int
}

type serverFactory func(t *testing.T) testServer

type testFunc func(t *testing.T, serverFactory serverFactory, factory Factory)

type testCase struct {
	caseName string
	f        testFunc
}

var testCases = []testCase{
	{caseName: "testRoundTrip", f: testRoundTrip},
	{caseName: "testMultipleResponsesPerRequest", f: testMultipleResponsesPerRequest},
	{caseName: "testConcurrentResponses", f: testConcurrentResponses},
	{caseName: "testServerClosesConnection", f: testServerClosesConnection},
	{caseName: "testClientClose", f: testClientClose},
	{caseName: "testHandlerError", f: testHandlerError},
}

func runTestCases(t *testing.T, serverFactory serverFactory, factory Factory) {
	for _, tc := range testCases {
		t.Run(tc.caseName, func(t *testing.T) {
			tc.f(t, serverFactory, factory)
		})
	}
}

func TestLocalTransport(t *testing.T) {
	localTransports := NewLocalTransports()
	serverFactory := func(t *testing.T) testServer {
		server, err := localTransports.NewLocalServer(uuid.New().String())
		require.NoError(t, err)
		require.NoError(t, server.Start())
		return server
	}
	runTestCases(t, serverFactory, localTransports.Factory())
}

func TestWebSocketTransport(t *testing.T) {
	cfg := conf.ClientConf{}
	cfg.ApplyDefaults()
	factory, err := NewWebSocketFactory(&cfg)
	require.NoError(t, err)
	serverFactory := func(t *testing.T) testServer {
		server := NewWebSocketServer("127.0.0.1:0", "/gremlin", nil)
		require.NoError(t, server.Start())
		return server
	}
	runTestCases(t, serverFactory, factory)
}

func dial(t *testing.T, server testServer, factory Factory) Transport {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := factory(ctx, server.Address())
	require.NoError(t, err)
	return tr
}

func stopServer(t *testing.T, server testServer) {
	err := server.Stop()
	require.NoError(t, err)
}

func testRoundTrip(t *testing.T, serverFactory serverFactory, factory Factory) {
	server := serverFactory(t)
	defer stopServer(t, server)
	server.SetHandler(func(ctx *ConnectionContext, request []byte, responseWriter ResponseWriter) error {
		return responseWriter([]byte("response-" + string(request)))
	})
	tr := dial(t, server, factory)
	defer func() {
		require.NoError(t, tr.Close())
	}()
	numRequests := 100
	received := readN(tr, numRequests)
	for i := 0; i < numRequests; i++ {
		err := tr.Write([]byte(fmt.Sprintf("request-%d", i)))
		require.NoError(t, err)
	}
	responses := <-received
	require.Equal(t, numRequests, len(responses))
	// Responses are written by the handler in request order
	for i, resp := range responses {
		require.Equal(t, fmt.Sprintf("response-request-%d", i), string(resp))
	}
}

func testMultipleResponsesPerRequest(t *testing.T, serverFactory serverFactory, factory Factory) {
	server := serverFactory(t)
	defer stopServer(t, server)
	server.SetHandler(func(ctx *ConnectionContext, request []byte, responseWriter ResponseWriter) error {
		for i := 0; i < 3; i++ {
			if err := responseWriter([]byte(fmt.Sprintf("%s-batch-%d", request, i))); err != nil {
				return err
			}
		}
		return nil
	})
	tr := dial(t, server, factory)
	defer func() {
		require.NoError(t, tr.Close())
	}()
	received := readN(tr, 6)
	require.NoError(t, tr.Write([]byte("a")))
	require.NoError(t, tr.Write([]byte("b")))
	var got []string
	for _, resp := range <-received {
		got = append(got, string(resp))
	}
	require.Equal(t, []string{"a-batch-0", "a-batch-1", "a-batch-2", "b-batch-0", "b-batch-1", "b-batch-2"}, got)
}

func testConcurrentResponses(t *testing.T, serverFactory serverFactory, factory Factory) {
	server := serverFactory(t)
	defer stopServer(t, server)
	var wg sync.WaitGroup
	server.SetHandler(func(ctx *ConnectionContext, request []byte, responseWriter ResponseWriter) error {
		req := string(request)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = responseWriter([]byte(req))
		}()
		return nil
	})
	tr := dial(t, server, factory)
	defer func() {
		require.NoError(t, tr.Close())
	}()
	numRequests := 50
	received := readN(tr, numRequests)
	expected := map[string]struct{}{}
	for i := 0; i < numRequests; i++ {
		req := fmt.Sprintf("request-%d", i)
		expected[req] = struct{}{}
		require.NoError(t, tr.Write([]byte(req)))
	}
	got := map[string]struct{}{}
	for _, resp := range <-received {
		got[string(resp)] = struct{}{}
	}
	require.Equal(t, expected, got)
	wg.Wait()
}

func testServerClosesConnection(t *testing.T, serverFactory serverFactory, factory Factory) {
	server := serverFactory(t)
	defer stopServer(t, server)
	server.SetHandler(func(ctx *ConnectionContext, request []byte, responseWriter ResponseWriter) error {
		ctx.CloseConnection()
		return nil
	})
	tr := dial(t, server, factory)
	defer func() {
		require.NoError(t, tr.Close())
	}()
	require.NoError(t, tr.Write([]byte("boom")))
	_, err := tr.Read()
	require.Error(t, err)
	require.Eventually(t, func() bool {
		return server.NumConnections() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func testClientClose(t *testing.T, serverFactory serverFactory, factory Factory) {
	server := serverFactory(t)
	defer stopServer(t, server)
	server.SetHandler(func(ctx *ConnectionContext, request []byte, responseWriter ResponseWriter) error {
		return nil
	})
	tr := dial(t, server, factory)
	readErr := make(chan error, 1)
	go func() {
		_, err := tr.Read()
		readErr <- err
	}()
	require.NoError(t, tr.Close())
	// Close is idempotent
	require.NoError(t, tr.Close())
	select {
	case err := <-readErr:
		require.True(t, errors.Is(err, ErrTransportClosed))
	case <-time.After(5 * time.Second):
		require.Fail(t, "blocked read was not released by close")
	}
	err := tr.Write([]byte("too late"))
	require.True(t, errors.Is(err, ErrTransportClosed))
}

func testHandlerError(t *testing.T, serverFactory serverFactory, factory Factory) {
	server := serverFactory(t)
	defer stopServer(t, server)
	server.SetHandler(func(ctx *ConnectionContext, request []byte, responseWriter ResponseWriter) error {
		return errors.New("cannot handle")
	})
	tr := dial(t, server, factory)
	defer func() {
		require.NoError(t, tr.Close())
	}()
	require.NoError(t, tr.Write([]byte("request")))
	// A failing handler drops the connection
	_, err := tr.Read()
	require.Error(t, err)
}

func TestDialUnknownLocalAddress(t *testing.T) {
	localTransports := NewLocalTransports()
	_, err := localTransports.CreateConnection(context.Background(), "nowhere")
	require.Error(t, err)
}

func TestLocalServerRefusesConnections(t *testing.T) {
	localTransports := NewLocalTransports()
	server, err := localTransports.NewLocalServer("refusing")
	require.NoError(t, err)
	server.SetRefuseConnections(true)
	_, err = localTransports.CreateConnection(context.Background(), "refusing")
	require.Error(t, err)
	server.SetRefuseConnections(false)
	tr, err := localTransports.CreateConnection(context.Background(), "refusing")
	require.NoError(t, err)
	require.Equal(t, 1, server.NumConnections())
	require.NoError(t, tr.Close())
	require.Equal(t, 0, server.NumConnections())

	_, err = localTransports.NewLocalServer("refusing")
	require.Error(t, err)
}

func TestDialWebSocketNoServer(t *testing.T) {
	cfg := conf.ClientConf{ConnectionTimeout: 500 * time.Millisecond}
	cfg.ApplyDefaults()
	factory, err := NewWebSocketFactory(&cfg)
	require.NoError(t, err)
	server := NewWebSocketServer("127.0.0.1:0", "/gremlin", nil)
	require.NoError(t, server.Start())
	address := server.Address()
	require.NoError(t, server.Stop())
	_, err = factory(context.Background(), address)
	require.Error(t, err)
}

func TestDialWebSocketWrongPath(t *testing.T) {
	cfg := conf.ClientConf{}
	cfg.ApplyDefaults()
	factory, err := NewWebSocketFactory(&cfg)
	require.NoError(t, err)
	server := NewWebSocketServer("127.0.0.1:0", "/gremlin", nil)
	require.NoError(t, server.Start())
	defer stopServer(t, server)
	_, err = factory(context.Background(), server.Address()+"-other")
	require.Error(t, err)
}

func readN(tr Transport, n int) chan [][]byte {
	ch := make(chan [][]byte, 1)
	go func() {
		var msgs [][]byte
		for len(msgs) < n {
			msg, err := tr.Read()
			if err != nil {
				break
			}
			msgs = append(msgs, msg)
		}
		ch <- msgs
	}()
	return ch
}
