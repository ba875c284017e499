package main

import (
	"os"

	"github.com/opd-ai/tipsession/cmd/tipsession/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
