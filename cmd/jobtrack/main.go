package main

import (
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := execute(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "jobtrack: %s\n", err.Error())
		os.Exit(1)
	}
}
