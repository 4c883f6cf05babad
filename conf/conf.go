package conf

import (
	"net/url"
	"time"

	"github.com/duckofyork/tinkerpop/errors"
)

const (
	DefaultEndpoint          = "ws://localhost:8182/gremlin"
	DefaultTraversalSource   = "g"
	DefaultPoolSize          = 4
	DefaultConnectionTimeout = 5 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultMaxContentLength  = 10 * 1024 * 1024
	DefaultWriteQueueSize    = 1000
	DefaultSerializerVersion = 2

	// MaxInFlight defaults to this multiple of the pool size
	DefaultInFlightPerConnection = 64

	PoolPolicyLeastPending = "least-pending"
	PoolPolicyRoundRobin   = "round-robin"
)

// ClientConf holds the configuration of a driver.Client. Zero values are replaced by defaults in ApplyDefaults, so a
// ClientConf parsed by kong, decoded from a config file or built in code behave the same.
type ClientConf struct {
	Endpoint          string        `help:"Gremlin server endpoint, e.g. ws://localhost:8182/gremlin" default:"ws://localhost:8182/gremlin"`
	TraversalSource   string        `help:"Alias of the traversal source 'g' is bound to on the server" default:"g"`
	PoolSize          int           `help:"Maximum number of connections to the server" default:"4"`
	PoolPolicy        string        `help:"How a connection is chosen once the pool is full" enum:"least-pending,round-robin" default:"least-pending"`
	MaxInFlight       int           `help:"Maximum number of requests awaiting a response. Further requests wait for one to complete. 0 means 64 per pooled connection"`
	ConnectionTimeout time.Duration `help:"Timeout for establishing a connection, including retries" default:"5s"`
	RequestTimeout    time.Duration `help:"Time after which a request with no terminal response fails. 0 means no timeout"`
	WriteTimeout      time.Duration `help:"Timeout for writing a single request to the transport" default:"5s"`
	MaxContentLength  int64         `help:"Maximum size in bytes of a single response message" default:"10485760"`
	WriteQueueSize    int           `help:"Maximum number of requests queued for writing on one connection" default:"1000"`
	Session           string        `help:"Session id. When set all requests go through a single connection in a server side session"`
	SerializerVersion int           `help:"GraphSON version used to serialize requests and decode responses, 2 or 3" default:"2"`
	EnableCompression bool          `help:"Negotiate per message compression with the server"`
	TLS               ClientTlsConf `embed:"" prefix:"tls-"`
}

func (c *ClientConf) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.TraversalSource == "" {
		c.TraversalSource = DefaultTraversalSource
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.Session != "" {
		// A session is bound to one server side connection
		c.PoolSize = 1
	}
	if c.PoolPolicy == "" {
		c.PoolPolicy = PoolPolicyLeastPending
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = DefaultInFlightPerConnection * c.PoolSize
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxContentLength == 0 {
		c.MaxContentLength = DefaultMaxContentLength
	}
	if c.WriteQueueSize == 0 {
		c.WriteQueueSize = DefaultWriteQueueSize
	}
	if c.SerializerVersion == 0 {
		c.SerializerVersion = DefaultSerializerVersion
	}
}

func (c *ClientConf) Validate() error { //nolint:gocyclo
	if c.Endpoint == "" {
		return errors.NewInvalidConfigurationError("endpoint must be specified")
	}
	if _, err := url.Parse(c.Endpoint); err != nil {
		return errors.NewInvalidConfigurationError("endpoint must be a valid URL")
	}
	if c.TraversalSource == "" {
		return errors.NewInvalidConfigurationError("traversal-source must be specified")
	}
	if c.PoolSize < 1 {
		return errors.NewInvalidConfigurationError("pool-size must be > 0")
	}
	if c.PoolPolicy != PoolPolicyLeastPending && c.PoolPolicy != PoolPolicyRoundRobin {
		return errors.NewInvalidConfigurationError("pool-policy must be one of least-pending, round-robin")
	}
	if c.MaxInFlight < 1 {
		return errors.NewInvalidConfigurationError("max-in-flight must be > 0")
	}
	if c.ConnectionTimeout < time.Millisecond {
		return errors.NewInvalidConfigurationError("connection-timeout must be >= 1ms")
	}
	if c.RequestTimeout < 0 {
		return errors.NewInvalidConfigurationError("request-timeout must be >= 0")
	}
	if c.WriteTimeout < time.Millisecond {
		return errors.NewInvalidConfigurationError("write-timeout must be >= 1ms")
	}
	if c.MaxContentLength < 1 {
		return errors.NewInvalidConfigurationError("max-content-length must be > 0")
	}
	if c.WriteQueueSize < 1 {
		return errors.NewInvalidConfigurationError("write-queue-size must be > 0")
	}
	if c.SerializerVersion != 2 && c.SerializerVersion != 3 {
		return errors.NewInvalidConfigurationError("serializer-version must be 2 or 3")
	}
	if c.TLS.Enabled && c.TLS.ClientCertFile != "" && c.TLS.ClientPrivateKeyFile == "" {
		return errors.NewInvalidConfigurationError("tls-client-private-key-file must be specified if tls-client-cert-file is specified")
	}
	return nil
}
