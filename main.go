// The main package for the parlingest executable.
package main

import (
	"github.com/openparl/parlingest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
