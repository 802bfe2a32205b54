package main

import (
	"fmt"
	"os"

	"github.com/EHRI/ehri-rest-sub010/cmd/ehri/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
