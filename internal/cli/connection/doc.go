// Package connection opens seqmesh-cli's two links to a server: the RESP
// data port through storage/remote, and the admin HTTP port through
// AdminClient.
package connection
