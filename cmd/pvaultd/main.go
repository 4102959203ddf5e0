package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	// Registers the "sim" threshold engine backend.
	_ "github.com/pushchain/push-vault-client/vaultClient/tss/engine/sim"
)

func main() {
	// Load environment variables from .env file if available
	_ = godotenv.Load()

	// Construct root command
	rootCmd := NewRootCmd()

	// Execute CLI
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.OutOrStderr(), err)
		os.Exit(1)
	}
}
