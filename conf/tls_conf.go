package conf

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/duckofyork/tinkerpop/errors"
)

type ClientTlsConf struct {
	Enabled              bool   `help:"is client TLS enabled?" default:"false"`
	ServerCertFile       string `help:"path to tls server certificate file in pem format"`
	ClientPrivateKeyFile string `help:"path to tls client private key file in pem format"`
	ClientCertFile       string `help:"path to tls client certificate file in pem format"`
	NoVerify             bool   `help:"Set to true to disable server certificate verification. WARNING use only for testing"`
}

func (c *ClientTlsConf) ToGoTlsConf() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{ // nolint: gosec
		MinVersion: tls.VersionTLS12,
	}
	if c.ServerCertFile != "" {
		serverCerts, err := os.ReadFile(c.ServerCertFile)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(serverCerts); !ok {
			return nil, errors.Errorf("failed to append server certs - is pem file invalid?")
		}
		tlsConfig.RootCAs = certPool
	}
	if c.ClientCertFile != "" {
		kp, err := tls.LoadX509KeyPair(c.ClientCertFile, c.ClientPrivateKeyFile)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}
	if c.NoVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	return tlsConfig, nil
}
