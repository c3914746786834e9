package main

import (
	"os"

	"github.com/satriahrh/narrasi/cmd/narrasi/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
