// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the blinddb server.
//
// Fields:
//   - EndpointAddr: bind address for the TCP protocol endpoint.
//   - EndpointAddrHealth: bind address for the gRPC health endpoint.
//   - DatabaseDSN: PostgreSQL DSN for the identity directory (pgx); empty
//     selects the in-memory directory.
//   - AuthTimeout: how long a client may take to finish the handshake.
//   - SnapshotOnShutdown: export ciphertext table dumps before exiting.
//   - S3RootUser / S3RootPassword: credentials for the S3-compatible backend.
//   - S3Bucket / S3Region / S3BaseEndpoint: object storage settings.
type Config struct {
	EndpointAddr       string
	EndpointAddrHealth string
	DatabaseDSN        string
	AuthTimeout        time.Duration
	SnapshotOnShutdown bool
	S3RootUser         string
	S3RootPassword     string
	S3Bucket           string
	S3Region           string
	S3BaseEndpoint     string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":7654"
	c.EndpointAddrHealth = ":7655"
	c.DatabaseDSN = ""
	c.AuthTimeout = 30 * time.Second
	c.SnapshotOnShutdown = false
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "snapshots"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
