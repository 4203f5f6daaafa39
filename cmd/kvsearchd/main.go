// kvsearchd is the standalone search node: it serves the FT.* command
// surface over HTTP for clients and the internal fanout endpoint for
// peers.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/kvsearch/cmd/kvsearchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
