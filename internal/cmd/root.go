package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/opsdeck/opsdeck-go/internal/app"
	"github.com/opsdeck/opsdeck-go/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "opsdeck",
	Short: "OpsDeck dashboard client",
	Long: `opsdeck is the command-line client for the OpsDeck operational dashboard.

It manages your authentication session (login, silent refresh, logout) and
gives quick access to your identity and current organization. The access
token is refreshed transparently; you only need to log in again when the
backend revokes your refresh credential.`,
	SilenceUsage: true,
}

var (
	cfgFile string
	deck    *app.App
)

// ExecuteContext runs the root command
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// getApp lazily constructs the application wiring from configuration.
func getApp() (*app.App, error) {
	if deck != nil {
		return deck, nil
	}
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	deck = app.New(cfg)
	return deck, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.opsdeck/config.yaml)")
}
