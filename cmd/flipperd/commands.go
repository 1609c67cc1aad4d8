package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/allouf/flipCoinFull-sub000/flipclient/config"
	"github.com/allouf/flipCoinFull-sub000/flipclient/core"
	"github.com/allouf/flipCoinFull-sub000/flipclient/logger"
)

// Set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())
}

func startCmd() *cobra.Command {
	var home string
	var keypairPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the flip client engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if cfg.DataDir == "" {
				cfg.DataDir = home
			}

			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

			key, err := solana.PrivateKeyFromSolanaKeygenFile(keypairPath)
			if err != nil {
				return fmt.Errorf("failed to load keypair from %s: %w", keypairPath, err)
			}
			signer := core.NewKeypairSigner(key)

			client, err := core.Build(cfg, signer, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("player", signer.PublicKey().String()).
				Str("program", cfg.ProgramID).
				Msg("starting flipperd")
			return client.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&home, "home", defaultHome(), "directory for config and cache database")
	cmd.Flags().StringVar(&keypairPath, "keypair", defaultKeypair(), "path to the Solana keypair file used for signing")
	return cmd
}

func initCmd() *cobra.Command {
	var home string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Printf("Wrote default config under %s\n", home)
			return nil
		},
	}

	cmd.Flags().StringVar(&home, "home", defaultHome(), "directory for config and cache database")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print flipperd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Name:       flipperd\n")
			fmt.Printf("Version:    %s\n", Version)
			fmt.Printf("Commit:     %s\n", Commit)
			fmt.Printf("Go Version: %s\n", runtime.Version())
		},
	}
}

func defaultHome() string {
	if env := os.Getenv("FLIPPERD_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flipperd"
	}
	return filepath.Join(home, ".flipperd")
}

func defaultKeypair() string {
	if env := os.Getenv("FLIPPERD_KEYPAIR"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}
