// Package main is the entry point for the emberwatch CLI tool.
package main

import (
	"os"

	"github.com/emberwatch/emberwatch/cmd/emberctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
