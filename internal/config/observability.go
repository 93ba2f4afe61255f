package config

// OtelConfig holds OpenTelemetry trace export settings.
// Tracing is enabled only when Enabled is true and Endpoint is set.
type OtelConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}
