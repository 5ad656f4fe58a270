// The main package for the sessioncrawler executable.
package main

import (
	"github.com/JakeFAU/council-sessions/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
