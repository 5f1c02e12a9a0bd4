// Package metric provides Prometheus metrics for SeqMesh.
//
// A Registry owns a private prometheus.Registry plus the collectors shared by
// the store core, the RESP server and the cluster layer. Every method is safe
// to call on a nil *Registry, so components can be built without metrics.
//
// Metrics are exposed at /metrics in Prometheus format by the admin HTTP
// server.
package metric
