// The main package for the storescout executable.
package main

import (
	"github.com/storescout/storescout/cmd"
)

func main() {
	cmd.Execute()
}
