// Package config defines the seqmesh-server configuration.
//
//   - spec.go: ServerConfig and its sections
//   - default.go: default values
//   - verify.go: validation
//   - sanitize.go: secret masking for logs
//   - cluster.go: mapping onto the substrate configuration
//
// Values are loaded by internal/infra/confloader from a YAML file and
// SEQMESH_ environment variables.
package config
