// Command binderhub runs the build-and-launch request coordinator.
package main

import (
	"fmt"
	"os"

	"github.com/binderhub-go/coordinator/cmd/binderhub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
