// Package respserver exposes a seqstore.Backend over the Redis
// serialization protocol (RESP2) so that remote processes can share one
// session store substrate.
//
// Commands:
//
//	PING [msg]                   QUIT
//	AUTH [user] secret
//	NS.OPEN ns                   KV.CLEAR ns
//	KV.PUT ns key value          KV.PUTNX ns key value   (:1 when the key was new)
//	KV.GET ns key                (bulk, or null)
//	KV.RANGE ns start end        (flat array: key, value, key, value...)
//	CTR.DEFINE name initial      CTR.GET name
//	CTR.ADD name delta           CTR.CAS name expect update (:1 when swapped)
//	CTR.RESET name
//
// Failures are replied as "-ERR <code> <text>" using the domain error codes.
// A follower in a Raft cluster replies "-NOTLEADER <addr>" with the
// leader's address, or an empty address while no leader is known.
package respserver
