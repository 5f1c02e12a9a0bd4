// Package confloader loads configuration with koanf.
//
// Sources, later overriding earlier:
//
//  1. the values already in the target struct (defaults)
//  2. a YAML file
//  3. environment variables with the SEQMESH_ prefix
//  4. an explicit map (flags)
//
// Environment names separate levels with a double underscore and keep
// single underscores inside keys: SEQMESH_SERVER__RESP__READ_TIMEOUT sets
// server.resp.read_timeout. Comma-separated values become lists.
//
// Watcher reports changes to the config file so that a server can re-read
// reloadable settings such as the log level.
package confloader
