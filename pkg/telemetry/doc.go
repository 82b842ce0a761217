// Package telemetry wires OpenTelemetry exporters and meters for the
// depscope sidecar.
//
// It centralises trace provider setup, applies depscope-specific resource
// attributes, and offers metric helpers that record learned dependency
// edges and the availability of the signals they were inferred from, so
// operators can correlate edge quality with mesh behaviour.
package telemetry
