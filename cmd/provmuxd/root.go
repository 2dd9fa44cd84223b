package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/provmux/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "provmuxd",
		Short:        "Resilient multi-provider AI request router",
		Long:         "provmuxd routes completion requests across AI providers with load balancing, failover, caching and rate limiting.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFiles, _ := cmd.Flags().GetStringSlice("env-file")
			return loadEnvFiles(envFiles)
		},
	}
	root.PersistentFlags().StringP("config", "c", "provmux.yaml", "path to the configuration file")
	root.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files loaded before the configuration; missing files are skipped")

	root.AddCommand(newServeCmd(), newValidateCmd(), newVersionCmd())
	return root
}

// loadEnvFiles loads each existing file. Variables already set in the
// environment win.
func loadEnvFiles(files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Example: `
# Serve with the default configuration file
provmuxd serve

# Serve with an explicit configuration and env file
provmuxd serve --config /etc/provmux.yaml --env-file /etc/provmux.env
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			return serve(cmd.Context(), path)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadFromFile(path)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid configuration: %v\n", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %d providers, strategy %s, fallback %s, cache %s\n",
				len(cfg.Providers), cfg.Service.Strategy, cfg.Service.FallbackPolicy, cacheLabel(cfg))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func cacheLabel(cfg *config.Config) string {
	if !cfg.Cache.Enabled {
		return "disabled"
	}
	return cfg.Cache.Backend
}
