package main

import (
	"os"

	"github.com/Aidin1998/padcheck/cmd/padcheck/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
