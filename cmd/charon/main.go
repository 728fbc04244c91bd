// Package main provides the charon CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/selasie/charon/cli"
	"github.com/selasie/charon/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var verbose bool

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "charon",
		Short: "Citation tracking and secure download links for agent responses",
		Long: `Charon extracts file citations from agent responses, records them
per message, and issues time-limited download links gated on message
ownership. Likely downloads are pre-resolved in the background.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.New()
			if err != nil {
				return err
			}
			logger := cli.NewLogger(verbose)
			return cli.Serve(context.Background(), settings, logger)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete citation records past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.New()
			if err != nil {
				return err
			}
			logger := cli.NewLogger(verbose)
			removed, err := cli.SweepCitations(context.Background(), settings, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d citation records\n", removed)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
