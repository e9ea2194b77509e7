// Package main provides the entry point for the regcopilot CLI.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/ovokpus/regcopilot/cmd/regcopilot/cmd"
)

func main() {
	// A missing .env is the normal case in production, where OPENAI_API_KEY
	// and PORT come from the process environment.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
