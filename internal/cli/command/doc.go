// Package command defines the seqmesh-cli commands on urfave/cli/v2.
//
//   - session: inspect and repair one FIX session's store over RESP
//   - system: ping, status, cluster and gc through the admin API
//   - backup: stream a backup from the admin API to a file
//   - profile: manage saved connection profiles
//
// Every action resolves GlobalFlags, opens the connection it needs, and
// renders its result through the output package.
package command
