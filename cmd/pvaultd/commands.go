package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sdkversion "github.com/cosmos/cosmos-sdk/version"
	"github.com/spf13/cobra"

	"github.com/pushchain/push-vault-client/vaultClient/config"
	"github.com/pushchain/push-vault-client/vaultClient/logger"
	"github.com/pushchain/push-vault-client/vaultClient/tss/node"
)

const (
	flagPartyID  = "party-id"
	flagRelayURL = "relay-url"
	flagEngine   = "engine"
	flagPassword = "keyshare-password"
	flagVault    = "vault"

	envKeysharePassword = "PVAULT_KEYSHARE_PASSWORD"
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(keysignCmd())
	rootCmd.AddCommand(versionCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config to the node home",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, _ := cmd.Flags().GetString(flagHome)
			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			cfg.NodeHome = home
			cfg.LocalPartyID, _ = cmd.Flags().GetString(flagPartyID)
			if url, _ := cmd.Flags().GetString(flagRelayURL); url != "" {
				cfg.RelayURL = url
			}
			if backend, _ := cmd.Flags().GetString(flagEngine); backend != "" {
				cfg.EngineBackend = backend
			}
			if cfg.LocalPartyID == "" {
				return fmt.Errorf("--%s is required", flagPartyID)
			}
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s/config\n", home)
			return nil
		},
	}
	cmd.Flags().String(flagPartyID, "", "party id announced to the relay")
	cmd.Flags().String(flagRelayURL, "", "relay url (defaults to the public relay)")
	cmd.Flags().String(flagEngine, "", "threshold engine backend")
	return cmd
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the vault client with its status server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := loadNode(cmd, node.Options{})
			if err != nil {
				return err
			}
			if err := n.Start(ctx); err != nil {
				_ = n.Stop()
				return err
			}

			<-ctx.Done()
			return n.Stop()
		},
	}
	cmd.Flags().String(flagPassword, "", "key share password (or "+envKeysharePassword+")")
	return cmd
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Keygen and reshare ceremonies",
	}
	join := &cobra.Command{
		Use:   "join [content]",
		Short: "Join a keygen or reshare from its join envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, func(ctx context.Context, n *node.Node) (any, error) {
				return n.JoinKeygen(ctx, args[0])
			})
		},
	}
	join.Flags().String(flagPassword, "", "key share password (or "+envKeysharePassword+")")
	cmd.AddCommand(join)
	return cmd
}

func keysignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keysign",
		Short: "Keysign ceremonies",
	}
	join := &cobra.Command{
		Use:   "join [content]",
		Short: "Join a keysign from its join envelope and broadcast the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, _ := cmd.Flags().GetString(flagVault)
			if vault == "" {
				return fmt.Errorf("--%s is required", flagVault)
			}
			return runOnce(cmd, func(ctx context.Context, n *node.Node) (any, error) {
				return n.JoinKeysign(ctx, vault, args[0])
			})
		},
	}
	join.Flags().String(flagVault, "", "ECDSA public key of the local vault")
	join.Flags().String(flagPassword, "", "key share password (or "+envKeysharePassword+")")
	cmd.AddCommand(join)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print pvaultd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Name:       %s\n", sdkversion.Name)
			fmt.Printf("App Name:   %s\n", sdkversion.AppName)
			fmt.Printf("Version:    %s\n", sdkversion.Version)
			fmt.Printf("Commit:     %s\n", sdkversion.Commit)
			fmt.Printf("Build Tags: %s\n", sdkversion.BuildTags)
		},
	}
}

// loadNode reads the config under --home and builds a node from it.
func loadNode(cmd *cobra.Command, opts node.Options) (*node.Node, error) {
	home, _ := cmd.Flags().GetString(flagHome)
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	if cfg.NodeHome == "" {
		cfg.NodeHome = home
	}
	if pw, _ := cmd.Flags().GetString(flagPassword); pw != "" {
		cfg.KeysharePassword = pw
	} else if pw := os.Getenv(envKeysharePassword); pw != "" {
		cfg.KeysharePassword = pw
	}
	return node.New(cfg, opts, logger.Init(cfg))
}

// runOnce runs a single ceremony on a node without the status server and
// prints its result as JSON.
func runOnce(cmd *cobra.Command, run func(ctx context.Context, n *node.Node) (any, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := loadNode(cmd, node.Options{DisableStatusServer: true})
	if err != nil {
		return err
	}
	defer n.Stop()
	if err := n.Start(ctx); err != nil {
		return err
	}

	res, err := run(ctx, n)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
