// Command taskboard manages a task board from the terminal.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Getenv).Execute(); err != nil {
		os.Exit(1)
	}
}
