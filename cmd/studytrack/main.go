// Package main is the entry point for the studytrack CLI.
package main

import (
	"os"

	"github.com/danielpatrickdp/studytrack/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
