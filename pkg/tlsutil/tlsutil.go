// Package tlsutil builds crypto/tls configurations from security settings.
// File and PEM problems are reported as configuration errors so the gateway
// refuses to start rather than failing on its first connection.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/pkg/security"
)

// ClientConfig returns the TLS config for a broker connection.
func ClientConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}
	if err := appendPEMFiles(roots, cfg.CAFiles, "tls.ca_files"); err != nil {
		return nil, err
	}

	minVersion, err := ParseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	out := &tls.Config{
		RootCAs:            roots,
		MinVersion:         minVersion,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in for test brokers
	}

	if cfg.MTLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.MTLS.CertFile, cfg.MTLS.KeyFile)
		if err != nil {
			return nil, errors.Config("tlsutil", "tls.mtls", "load client certificate: %v", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

// ServerConfig returns the TLS config for the admin listener, or nil when
// TLS is disabled.
func ServerConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.Config("tlsutil", "admin.tls", "load server certificate: %v", err)
	}
	minVersion, err := ParseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}
	if !cfg.MTLS.Enabled {
		return out, nil
	}

	clientCAs := x509.NewCertPool()
	if err := appendPEMFiles(clientCAs, cfg.MTLS.ClientCAFiles, "admin.tls.mtls.client_ca_files"); err != nil {
		return nil, err
	}
	out.ClientCAs = clientCAs
	out.ClientAuth = tls.VerifyClientCertIfGiven
	if cfg.MTLS.RequireClientCert {
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}

	if allowed := cfg.MTLS.AllowedClientCNs; len(allowed) > 0 {
		out.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return checkCommonName(chains, allowed)
		}
	}
	return out, nil
}

// ParseVersion maps "1.2" and "1.3" to their crypto/tls constants. An empty
// string means TLS 1.2.
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, errors.Config("tlsutil", "tls.min_version", "unsupported TLS version %q", v)
	}
}

func appendPEMFiles(pool *x509.CertPool, files []string, field string) error {
	for _, f := range files {
		pemData, err := os.ReadFile(f)
		if err != nil {
			return errors.Config("tlsutil", field, "read %s: %v", f, err)
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return errors.Config("tlsutil", field, "no PEM certificates in %s", f)
		}
	}
	return nil
}

func checkCommonName(chains [][]*x509.Certificate, allowed []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chain")
	}
	cn := chains[0][0].Subject.CommonName
	for _, a := range allowed {
		if cn == a {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN %q not allowed", cn)
}
