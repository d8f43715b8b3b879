// Package observability provides OpenTelemetry metrics for the chatsync
// hub server: HTTP request instrumentation plus connection and frame
// counters.
package observability

// Config holds OpenTelemetry configuration.
type Config struct {
	// Exporter type: "none", "stdout", or "otlp"
	Exporter string

	// OTLP endpoint (for the otlp exporter)
	Endpoint string

	// Service name for telemetry
	ServiceName string
}

// NewConfig returns default configuration.
func NewConfig() *Config {
	return &Config{
		Exporter:    "none",
		Endpoint:    "localhost:4317",
		ServiceName: "chatsync",
	}
}

// Enabled returns true if OTel should be initialized.
func (c *Config) Enabled() bool {
	return c.Exporter != "none"
}
