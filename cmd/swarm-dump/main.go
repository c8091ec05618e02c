// Command swarm-dump captures and decodes TCP traffic, reporting
// session events without participating in the connection.
package main

import (
	"fmt"
	"os"

	"github.com/swarmdump/swarm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "swarm-dump: %v\n", err)
		os.Exit(1)
	}
}
