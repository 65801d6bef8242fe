// Package main provides the entry point for the deptqa CLI.
package main

import (
	"os"

	"github.com/map-community/CHATBOT-AI-sub000/cmd/deptqa/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
