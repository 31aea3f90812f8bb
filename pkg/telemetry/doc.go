// Package telemetry provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the broker. All observability concerns flow
// through this package so the core stays free of vendor-specific wiring.
package telemetry
