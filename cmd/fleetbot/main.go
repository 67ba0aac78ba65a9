package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m3rciful/fleetbot/core/buildinfo"
	corecmd "github.com/m3rciful/fleetbot/core/cmd"
	"github.com/m3rciful/fleetbot/internal/app"
	"github.com/m3rciful/fleetbot/internal/config"
)

const defaultConfigPath = "config.yaml"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "fleetbot",
		Short:   "Telegram bot that manages a fleet of user accounts",
		Version: fmt.Sprintf("%s (%s %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		Long: `fleetbot signs in Telegram user accounts and applies bulk actions to them
(profile changes, privacy, two-step passwords, joining chats, sending messages)
from a private operator bot.

The config file path comes from --config, then CONFIG_PATH. Every setting can be
overridden by environment variables; a .env file in the working directory is
loaded first.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(resolveConfig(configPath))
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (default $CONFIG_PATH or "+defaultConfigPath+")")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(resolveConfig(*configPath))
		},
	}
}

func resolveConfig(flag string) string {
	return corecmd.ResolveConfigPath(flag, corecmd.DefaultConfigEnv, defaultConfigPath)
}

func serve(configPath string) error {
	ctx, cancel := corecmd.SignalContext(context.Background())
	defer cancel()
	return corecmd.Run(ctx, corecmd.Options{
		ConfigPath: configPath,
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return config.Load(path)
		},
		Bootstrap: func(ctx context.Context, c corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg, ok := c.(*config.Config)
			if !ok {
				return nil, fmt.Errorf("unexpected config type %T", c)
			}
			return app.Bootstrap(ctx, cfg)
		},
	})
}
