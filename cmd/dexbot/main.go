package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tidaldex/dexbot/pkg/config"
	"github.com/tidaldex/dexbot/pkg/logger"
)

var configPath string

func main() {
	// Missing .env is fine; config and the environment cover everything.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "dexbot",
		Short: "Conversational EVM wallet core",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the wallet services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger.SetLevel(cfg.LogLevel)
			return run(cmd.Context(), cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config already exists at %s", configPath)
			}
			if err := config.SaveConfig(configPath, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("Created config at %s\n", configPath)
			fmt.Println("Set vault.secret (or DEXBOT_VAULT_SECRET) before running.")
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
