// Package main is the entry point for wincore-engine, the JFrog build
// polling service. See package cli for the command surface.
package main

import (
	"os"

	"wincore.dev/engine/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
