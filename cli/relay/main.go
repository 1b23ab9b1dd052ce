package main

import (
	"os"

	"github.com/joho/godotenv"

	relaycmder "github.com/lanternworks/relay/cmd/relay"
)

func main() {
	// Optional .env for RELAY_* overrides. Absence is not an error.
	_ = godotenv.Load()

	cmd := relaycmder.NewRelayCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
