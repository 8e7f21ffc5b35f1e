// Command aetherd runs the AetherOS kernel: the REST boundary, the
// scheduler, and every core subsystem wired against a single StateStore.
package main

import (
	"fmt"
	"os"

	"github.com/aether-os/kernel/internal/cmd"
)

var version = "dev"

func main() {
	root := cmd.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
