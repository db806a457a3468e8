package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"draftline/internal/app"
	"draftline/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Draftline CLI",
	Long: `Draftline keeps explorations as a versioned commit log and carries unsaved
drafts across states schema migrations.
- Exploration: versioned content; every commit bumps the version.
- Schema migration: one commit per states schema step, containing only a
  migrate_states_schema_to_latest_version command.
- Draft: a user's unsaved change list, written against one exploration version.
  Loading a stale draft upgrades it through the registered converters, or
  discards it when a content edit happened in between.
- Converters: one per schema step (dl converters list).
- Event log: every change is recorded, view with 'dl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := app.LoadEnv(workspace); err != nil {
			return err
		}
		_, err := db.EnsureWorkspace(workspace)
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DRAFTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(explorationCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(suggestionCmd())
	rootCmd.AddCommand(convertersCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default draftline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.Init(viper.GetString("workspace"), force)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
