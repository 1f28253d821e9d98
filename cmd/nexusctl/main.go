package main

import (
	"os"

	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
