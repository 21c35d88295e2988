package main

import (
	"os"

	"github.com/Guizzs26/go-crm-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
