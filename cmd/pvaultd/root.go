package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	flagHome = "home"

	// envHome overrides the default node home.
	envHome = "PVAULT_HOME"
)

// defaultNodeHome is ~/.pvault unless PVAULT_HOME is set.
func defaultNodeHome() string {
	if h := os.Getenv(envHome); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pvault"
	}
	return filepath.Join(home, ".pvault")
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pvaultd",
		Short:         "Push Vault Client Daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(flagHome, defaultNodeHome(), "node home directory")

	InitRootCmd(rootCmd) // add subcommands like `start` and `version`

	return rootCmd
}
