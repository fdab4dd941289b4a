package main

import (
	"os"

	"github.com/conneroisu/trafficlight/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
