// The main package for the comics executable.
package main

import (
	"github.com/JakeFAU/comic-tracker/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
