// Package main is the entry point for the fints-sync CLI.
package main

import (
	"os"

	"github.com/fintshub/fints-sync/cmd/fints-sync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
