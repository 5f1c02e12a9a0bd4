// Package tracer provides distributed tracing for SeqMesh.
//
// Tracing is opt-in. When no OTLP endpoint is configured, Setup installs
// nothing and spans started with Start are no-ops.
package tracer
