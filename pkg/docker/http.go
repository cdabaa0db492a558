package docker

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"

	"github.com/pkg/errors"
)

// newHTTPClient creates an http client authenticating to the daemon with
// client certificates. No client timeout is set, exec output is streamed for
// the whole duration of a build.
func newHTTPClient(certFile, keyFile, caCertFile string) (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "could not load docker client certificate")
	}

	caCert, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, errors.Wrap(err, "could not read docker CA certificate")
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.Errorf("no certificates found in %s", caCertFile)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      caCertPool,
			MinVersion:   tls.VersionTLS12,
		},
	}

	return &http.Client{Transport: transport}, nil
}
