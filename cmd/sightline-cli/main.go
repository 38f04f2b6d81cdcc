// Command sightline-cli drives a running sightline server over its Unix
// socket: compose queries, run searches, inspect patterns and follow live
// tails from the terminal.
package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCommand(newApp(os.Stdout))
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
