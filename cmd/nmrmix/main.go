// nmrmix - NMR compound mixture optimizer
package main

import (
	"fmt"
	"os"

	"github.com/copyleftdev/nmrmix/cmd/nmrmix/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
