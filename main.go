// The main package for the lnreqnw executable.
package main

import (
	"github.com/1k-7/LNreqnw/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
