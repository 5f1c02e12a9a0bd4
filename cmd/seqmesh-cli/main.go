// Command seqmesh-cli inspects and maintains a SeqMesh store.
//
// Usage:
//
//	seqmesh-cli --server 127.0.0.1:7379 session show 'FIX.4.4:CLIENT->BROKER'
//	seqmesh-cli --admin 127.0.0.1:7380 --secret ... system status
//	seqmesh-cli profile save prod
package main

import (
	"fmt"
	"os"

	"github.com/yndnr/seqmesh-go/internal/cli/command"
)

func main() {
	if err := command.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
