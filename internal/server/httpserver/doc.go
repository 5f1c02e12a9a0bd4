// Package httpserver is the admin HTTP listener of seqmesh-server.
//
// Routes:
//
//	GET  /healthz                 liveness
//	GET  /readyz                  readiness (substrate reachable, leader known)
//	GET  /metrics                 Prometheus exposition
//	GET  /admin/v1/status         build, driver and storage summary
//	GET  /admin/v1/cluster        raft view of the cluster (raft driver)
//	POST /admin/v1/backup         streams a badger backup (badger driver)
//	POST /admin/v1/gc             runs badger value log GC (badger driver)
//
// /admin routes require "Authorization: Bearer <security.auth_secret>"
// when a secret is configured.
package httpserver
