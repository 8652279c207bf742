// Package security holds the TLS settings shared by the broker client and
// the admin server.
package security

// ClientTLSConfig configures TLS to the broker. The system CA pool is always
// trusted; CAFiles adds private CAs on top of it.
type ClientTLSConfig struct {
	CAFiles            []string         `yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool             `yaml:"insecure_skip_verify,omitempty"` // test brokers only
	MinVersion         string           `yaml:"min_version,omitempty"`          // "1.2" or "1.3"
	ServerName         string           `yaml:"server_name,omitempty"`
	MTLS               ClientMTLSConfig `yaml:"mtls,omitempty"`
}

// ClientMTLSConfig provides the client certificate for brokers that
// authenticate clients by certificate.
type ClientMTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// ServerTLSConfig configures HTTPS on the admin listener.
type ServerTLSConfig struct {
	Enabled    bool             `yaml:"enabled"`
	CertFile   string           `yaml:"cert_file,omitempty"`
	KeyFile    string           `yaml:"key_file,omitempty"`
	MinVersion string           `yaml:"min_version,omitempty"`
	MTLS       ServerMTLSConfig `yaml:"mtls,omitempty"`
}

// ServerMTLSConfig restricts admin access to clients holding a certificate
// from ClientCAFiles, optionally limited to a list of common names.
type ServerMTLSConfig struct {
	Enabled           bool     `yaml:"enabled"`
	ClientCAFiles     []string `yaml:"client_ca_files,omitempty"`
	RequireClientCert bool     `yaml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `yaml:"allowed_client_cns,omitempty"`
}
