package main

import (
	"fmt"
	"os"

	"github.com/go-go-golems/inbox/cmd/inbox/cmds"
)

func main() {
	root := cmds.NewRootCommand(cmds.NewApp())
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
