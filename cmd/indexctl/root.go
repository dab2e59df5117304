package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/app"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "indexctl",
		Short:        "Operate the versioned code index: register, refresh, reconcile, inspect",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, "text")
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/development.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of text")

	root.AddCommand(
		newRegisterCmd(opts),
		newListCmd(opts),
		newRefreshCmd(opts),
		newReconcileCmd(opts),
		newResolveCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// open assembles the service for one command. The caller closes it.
func (o *rootOptions) open(ctx context.Context, notifications bool) (*app.Service, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	return app.New(ctx, config.NewLive(o.configPath, cfg), app.Options{Notifications: notifications})
}

func (o *rootOptions) print(w io.Writer, v any, text func(w io.Writer)) error {
	if o.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
