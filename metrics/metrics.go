package metrics

import (
	"net"
	"net/http"
	"sync"

	"github.com/duckofyork/tinkerpop/common"
	"github.com/duckofyork/tinkerpop/errors"
	log "github.com/duckofyork/tinkerpop/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type (
	Labels        = prometheus.Labels
	Counter       = prometheus.Counter
	CounterVec    = prometheus.CounterVec
	CounterOpts   = prometheus.CounterOpts
	Gauge         = prometheus.Gauge
	GaugeOpts     = prometheus.GaugeOpts
	HistogramOpts = prometheus.HistogramOpts
	Histogram     = prometheus.Histogram
)

// Server exposes the metrics of a gatherer over HTTP at /metrics.
type Server struct {
	lock       sync.Mutex
	bind       string
	httpServer *http.Server
	listener   net.Listener
	dummy      bool
}

type metricServer struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

func (ms *metricServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.InstrumentMetricHandler(
		ms.registerer, promhttp.HandlerFor(ms.gatherer, promhttp.HandlerOpts{
			DisableCompression: true,
		}),
	).ServeHTTP(w, r)
}

// NewServer creates a server bound to bind, e.g. "127.0.0.1:9102". A dummy server does nothing when started, so
// callers don't need to check whether metrics are enabled.
func NewServer(bind string, registry *prometheus.Registry, dummy bool) *Server {
	if dummy {
		return &Server{dummy: true}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", &metricServer{registerer: registry, gatherer: registry})
	return &Server{
		bind: bind,
		httpServer: &http.Server{
			Handler: mux,
		},
	}
}

func (s *Server) Start() error {
	if s.dummy {
		return nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return errors.WithStack(err)
	}
	s.listener = listener
	common.Go("metrics-server", func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("prometheus http export server failed to serve %v", err)
		}
	})
	log.Debugf("Started prometheus http server on address %s", listener.Addr().String())
	return nil
}

// Address is the address the server is listening on, only valid after Start.
func (s *Server) Address() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	if s.dummy {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}
