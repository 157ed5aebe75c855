// listsmartctl is the operator CLI: it revokes sessions and inspects or
// tidies a user's shopping list using the server's configuration.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
