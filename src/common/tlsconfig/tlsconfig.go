// Package tlsconfig builds the one crypto/tls.Config surface this relay
// needs a file-driven builder for: the MQTT broker client connection, with
// its three-tier CA/cert file selection. The downlink HTTPS API's server
// TLS config is built directly from go:embed'd PEM bytes in src/downlink,
// which has no file paths to hand this package.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// config holds the minimum shared knobs BuildBrokerTLSConfig needs: the
// minimum TLS version and the server name to verify the broker against.
type config struct {
	MinVersion string
	ServerName string
}

// BuildBrokerTLSConfig builds a client tls.Config for an MQTT broker
// connection from three independently-optional file paths. It mirrors the
// broker's own fallback order rather than an Enabled/CertFile toggle, since
// a broker session decides whether TLS is in play from the scheme of its
// broker address, not from a config flag:
//
//   - caFile, certFile and keyFile all set: mutual TLS, the CA pool verifies
//     the broker and the cert/key pair authenticates the relay to it.
//   - only caFile set: server-verify-only, the broker is verified against
//     the given CA and no client certificate is presented.
//   - none set: RootCAs stays nil, which makes crypto/tls fall back to the
//     host's system trust store.
func BuildBrokerTLSConfig(caFile, certFile, keyFile, minVersion, serverName string) (*tls.Config, error) {
	c := &config{MinVersion: minVersion, ServerName: serverName}

	// #nosec G402 - MinVersion is configurable by the caller, not hardcoded to a low value
	tlsConfig := &tls.Config{
		MinVersion:   c.getMinTLSVersion(),
		CipherSuites: getSecureCipherSuites(),
		ServerName:   serverName,
	}

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read broker CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse broker CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load broker client certificate and key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	} else if certFile != "" || keyFile != "" {
		return nil, fmt.Errorf("both certFile and keyFile must be provided for broker client authentication")
	}

	return tlsConfig, nil
}

// getMinTLSVersion converts the string version to tls constant.
// Defaults to TLS 1.2 for secure connections.
func (c *config) getMinTLSVersion() uint16 {
	switch c.MinVersion {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12 // Secure default
	}
}

// getSecureCipherSuites returns a list of secure cipher suites.
// These are recommended cipher suites that provide forward secrecy and strong encryption.
func getSecureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	}
}
