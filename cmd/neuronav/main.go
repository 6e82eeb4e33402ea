// Package main is the neuronav executable.
package main

import "github.com/JakeFAU/neuronav/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
