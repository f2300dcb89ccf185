// Package main is the entry point for the framesight application.
package main

import (
	"os"

	"github.com/framesight/framesight/cmd/framesight/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
