// Command moonsugar exercises the library end to end: each subcommand
// drives one allocator or the thread pool under a synthetic workload and
// prints its Stats, so the public API has a real consumer beyond tests.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
