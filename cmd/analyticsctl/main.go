// Command analyticsctl runs the analytics queries and the grading command
// against a JSON snapshot, without Postgres or Redis. It reproduces the
// numbers the API serves for a given roster and reference time.
package main

import (
	"fmt"
	"os"
)

var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
