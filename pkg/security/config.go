// Package security holds the TLS settings shared by the gateway's outbound connections
package security

// ClientTLSConfig holds TLS configuration for a client connection (STOMP feed,
// AMQP broker, NATS server). The system CA bundle is always trusted; CAFiles
// are additional trusted CAs.
type ClientTLSConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	ServerName         string   `json:"server_name,omitempty" yaml:"server_name,omitempty"`
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`                   // "1.2" or "1.3"

	// mTLS client certificate
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}
