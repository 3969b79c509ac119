// Package main is the entry point for the chatcrawler CLI.
package main

import (
	"os"

	"github.com/jmylchreest/chatcrawler/cmd/chatcrawler/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
