package conf

import (
	"testing"
	"time"

	"github.com/duckofyork/tinkerpop/errors"
	"github.com/stretchr/testify/require"
)

type configPair struct {
	errMsg string
	conf   ClientConf
}

func invalidPoolSizeConf() ClientConf {
	cnf := validConf()
	cnf.PoolSize = -1
	return cnf
}

func invalidPoolPolicyConf() ClientConf {
	cnf := validConf()
	cnf.PoolPolicy = "random"
	return cnf
}

func invalidMaxInFlightConf() ClientConf {
	cnf := validConf()
	cnf.MaxInFlight = -2
	return cnf
}

func invalidConnectionTimeoutConf() ClientConf {
	cnf := validConf()
	cnf.ConnectionTimeout = time.Microsecond
	return cnf
}

func invalidRequestTimeoutConf() ClientConf {
	cnf := validConf()
	cnf.RequestTimeout = -time.Second
	return cnf
}

func invalidWriteTimeoutConf() ClientConf {
	cnf := validConf()
	cnf.WriteTimeout = -1
	return cnf
}

func invalidMaxContentLengthConf() ClientConf {
	cnf := validConf()
	cnf.MaxContentLength = -1
	return cnf
}

func invalidWriteQueueSizeConf() ClientConf {
	cnf := validConf()
	cnf.WriteQueueSize = -1
	return cnf
}

func invalidSerializerVersionConf() ClientConf {
	cnf := validConf()
	cnf.SerializerVersion = 1
	return cnf
}

func invalidTraversalSourceConf() ClientConf {
	cnf := validConf()
	cnf.TraversalSource = ""
	return cnf
}

func tlsKeyMissingConf() ClientConf {
	cnf := validConf()
	cnf.TLS = ClientTlsConf{Enabled: true, ClientCertFile: "client_cert.pem"}
	return cnf
}

var invalidConfigs = []configPair{
	{"invalid configuration: traversal-source must be specified", invalidTraversalSourceConf()},
	{"invalid configuration: pool-size must be > 0", invalidPoolSizeConf()},
	{"invalid configuration: pool-policy must be one of least-pending, round-robin", invalidPoolPolicyConf()},
	{"invalid configuration: max-in-flight must be > 0", invalidMaxInFlightConf()},
	{"invalid configuration: connection-timeout must be >= 1ms", invalidConnectionTimeoutConf()},
	{"invalid configuration: request-timeout must be >= 0", invalidRequestTimeoutConf()},
	{"invalid configuration: write-timeout must be >= 1ms", invalidWriteTimeoutConf()},
	{"invalid configuration: max-content-length must be > 0", invalidMaxContentLengthConf()},
	{"invalid configuration: write-queue-size must be > 0", invalidWriteQueueSizeConf()},
	{"invalid configuration: serializer-version must be 2 or 3", invalidSerializerVersionConf()},
	{"invalid configuration: tls-client-private-key-file must be specified if tls-client-cert-file is specified", tlsKeyMissingConf()},
}

func TestValidate(t *testing.T) {
	for _, cp := range invalidConfigs {
		err := cp.conf.Validate()
		require.Error(t, err, "Didn't get error, expected: %s", cp.errMsg)
		//goland:noinspection GoTypeAssertionOnErrors
		pe, ok := errors.Cause(err).(errors.DriverError)
		require.True(t, ok)
		require.Equal(t, errors.InvalidConfiguration, pe.Code)
		require.Equal(t, cp.errMsg, pe.Msg)
	}
}

func TestValidConf(t *testing.T) {
	cnf := validConf()
	require.NoError(t, cnf.Validate())
}

func TestApplyDefaults(t *testing.T) {
	cnf := ClientConf{}
	cnf.ApplyDefaults()
	require.Equal(t, DefaultEndpoint, cnf.Endpoint)
	require.Equal(t, "g", cnf.TraversalSource)
	require.Equal(t, DefaultPoolSize, cnf.PoolSize)
	require.Equal(t, PoolPolicyLeastPending, cnf.PoolPolicy)
	require.Equal(t, DefaultInFlightPerConnection*DefaultPoolSize, cnf.MaxInFlight)
	require.Equal(t, DefaultConnectionTimeout, cnf.ConnectionTimeout)
	require.Equal(t, time.Duration(0), cnf.RequestTimeout)
	require.Equal(t, DefaultSerializerVersion, cnf.SerializerVersion)
	require.NoError(t, cnf.Validate())
}

func TestApplyDefaultsSessionForcesSingleConnection(t *testing.T) {
	cnf := ClientConf{Session: "a-session", PoolSize: 8}
	cnf.ApplyDefaults()
	require.Equal(t, 1, cnf.PoolSize)
	require.Equal(t, DefaultInFlightPerConnection, cnf.MaxInFlight)
	require.NoError(t, cnf.Validate())
}

func TestTlsDisabled(t *testing.T) {
	tlsConf := ClientTlsConf{}
	goConf, err := tlsConf.ToGoTlsConf()
	require.NoError(t, err)
	require.Nil(t, goConf)

	tlsConf = ClientTlsConf{Enabled: true, NoVerify: true}
	goConf, err = tlsConf.ToGoTlsConf()
	require.NoError(t, err)
	require.True(t, goConf.InsecureSkipVerify)

	tlsConf = ClientTlsConf{Enabled: true, ServerCertFile: "testdata/does-not-exist.pem"}
	_, err = tlsConf.ToGoTlsConf()
	require.Error(t, err)
}

func validConf() ClientConf {
	conf := ClientConf{
		Endpoint:        "ws://localhost:45940/gremlin",
		TraversalSource: "g",
		PoolSize:        2,
		RequestTimeout:  30 * time.Second,
	}
	conf.ApplyDefaults()
	return conf
}
