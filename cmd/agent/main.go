package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment alone may configure the agent.
	godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}
