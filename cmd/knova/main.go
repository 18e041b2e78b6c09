// Package main provides the entry point for the knova CLI.
package main

import (
	"os"

	"github.com/knovalab/knova/cmd/knova/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
