// The main package for the crawler executable.
package main

import (
	"github.com/kruyneg/information-retrieval/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
