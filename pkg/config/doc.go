// Package config holds the configuration of the ClickHouse event sink.
//
// The configuration is organized into sections:
//   - ClickHouse: connection parameters for the HTTP interface
//   - Models: logical record kinds mapped to their upstream source
//   - Sinks: enable flags and dump defaults
//   - Transport: bulk insert tuning and request compression
//   - Repository: where upstream records are read from
//   - Kafka, Redis, Scheduler: worker wiring
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg := config.NewDefaultConfig()
//	if err := config.Load("event-sink.yaml", cfg); err != nil {
//	    log.Fatal(err)
//	}
//	conn := cfg.ClickHouse.WithOverrides(&config.Overrides{Database: config.String("reporting")})
package config
