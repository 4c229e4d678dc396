package main

import (
	"os"
)

var version = "dev" // set via ldflags during build

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
