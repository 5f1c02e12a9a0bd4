// Package config holds seqmesh-cli connection profiles.
//
// Profiles live in ~/.seqmesh/cli.yaml and supply defaults for the global
// connection flags. Explicit flags and SEQMESH_* variables always win.
package config
