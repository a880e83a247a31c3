// The main package for the reports executable.
package main

import (
	"github.com/JakeFAU/class-reports/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
