// Package main is the entry point for the slack-ghost bridge.
package main

import (
	"os"

	"github.com/slack-ghost/slack-ghost/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
