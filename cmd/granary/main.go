// Package main is the entry point for the granary CLI.
package main

import (
	"os"

	"github.com/granarydata/granary/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
