// Command diactl calls the DIA backend from the shell. Every command
// prints the JSON envelope the client returned, with "source" telling
// live answers from offline data.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "diactl:", err)
		os.Exit(1)
	}
}
