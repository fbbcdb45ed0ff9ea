package config

// DefaultTracingAgentHost is the default OTLP/HTTP collector endpoint.
const DefaultTracingAgentHost = "localhost:4318"

// TracingConfig holds OTLP trace export configuration.
//
// Traces are shipped to a local OpenTelemetry collector over OTLP/HTTP.
// See internal/observability/tracing.go for the exporter setup.
type TracingConfig struct {
	// Enabled turns trace export on. Off by default so one-shot CLI runs
	// don't need a collector.
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// AgentHost is the collector OTLP endpoint (default: localhost:4318)
	AgentHost string `mapstructure:"agent_host" json:"agent_host"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name on exported spans (default: kaiwa)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}
