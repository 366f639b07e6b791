package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	basePathFlag string
	listenFlag   string
	identifierID string
)

var rootCmd = &cobra.Command{
	Use:           "schemaproxy",
	Short:         "Clone the table structure of a live MySQL or PostgreSQL database into SQLite",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP proxy",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var cloneCmd = &cobra.Command{
	Use:   "clone <connection-string>",
	Short: "Clone one source schema and print the new identifier",
	Args:  cobra.ExactArgs(1),
	RunE:  runClone,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&basePathFlag, "base-path", "", "directory holding cloned databases (overrides base_path)")
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "HTTP listen address (overrides listen_addr)")
	cloneCmd.Flags().StringVar(&identifierID, "id", "", "use this identifier instead of generating one")

	rootCmd.AddCommand(serveCmd, cloneCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig loads the config file and applies command-line overrides.
func resolveConfig() (*ProxyConfig, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if basePathFlag != "" {
		cfg.BasePath = basePathFlag
	}
	if listenFlag != "" {
		cfg.ListenAddr = listenFlag
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)
	logger.Info("schemaproxy " + versionString())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newServer(cfg, logger).serve(ctx)
}

func runClone(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	desc, err := ParseConnectionString(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if cfg.CloneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CloneTimeout)
		defer cancel()
	}

	cloned, err := newServer(cfg, logger).clone(ctx, desc, cfg.BasePath, identifierID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cloned.Identifier)
	return nil
}
