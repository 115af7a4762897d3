// Package config holds the interceptor's runtime configuration, populated
// from CLI flags (§6.1) with environment variable overrides for the two
// values operators most often want to set per-shell rather than re-typing on
// every invocation.
package config

import "os"

// Config holds acp-traces configuration. Unlike a long-running server, this
// tool has no config file: every run is a single
// `acp-traces [OPTIONS] -- <command> [args...]` invocation, so flags are the
// primary source and env vars are overrides applied on top.
type Config struct {
	// OTLPEndpoint is the exporter endpoint.
	// Env override: ACP_TRACES_OTLP_ENDPOINT
	OTLPEndpoint string

	// OTLPProtocol selects the exporter transport: "grpc" or "http".
	OTLPProtocol string

	// ServiceName sets the service.name resource attribute.
	// Env override: ACP_TRACES_SERVICE_NAME
	ServiceName string

	// RecordContent enables the opt-in content attributes of §4.4
	// (gen_ai.input.messages, gen_ai.output.messages, tool call arguments
	// and results). Off by default.
	RecordContent bool

	// Verbose is the repeated -v/--verbose count, mapped to slog levels by
	// internal/logger.
	Verbose int
}

// Default returns the flag defaults of §6.1, before flag parsing or env
// overrides are applied.
func Default() Config {
	return Config{
		OTLPEndpoint: "http://localhost:4317",
		OTLPProtocol: "grpc",
		ServiceName:  "acp-agent",
	}
}

// ApplyEnvOverrides overlays ACP_TRACES_OTLP_ENDPOINT and
// ACP_TRACES_SERVICE_NAME onto cfg if set. Call after flag parsing: env vars
// are applied as the final overlay, so a set variable wins over both the
// default and an explicitly passed flag.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ACP_TRACES_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
	if v := os.Getenv("ACP_TRACES_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
}
