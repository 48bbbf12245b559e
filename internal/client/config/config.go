package config

import "time"

// Config holds runtime settings for the plotroom CLI.
//
// Fields:
//   - ServerURL: base URL of the REST API (scheme, host and port).
//   - GRPCAddr: host:port of the realtime gRPC endpoint.
//   - RequestTimeout: upper bound for a single REST call.
type Config struct {
	ServerURL      string
	GRPCAddr       string
	RequestTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.GRPCAddr = "127.0.0.1:50051"
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
