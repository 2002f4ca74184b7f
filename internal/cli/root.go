// Package cli implements rewardctl, the operator command line for the reward
// jobs and the ledger.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"radish-rewards/internal/app"
	"radish-rewards/internal/infra/config"
	applog "radish-rewards/internal/infra/log"
)

// RootOptions holds global flags and the app factory shared by all commands.
type RootOptions struct {
	Verbose bool

	// Open builds the application. Tests replace it.
	Open func(ctx context.Context, verbose bool) (*app.App, error)
}

// NewRootCommand creates the rewardctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Open: openApp})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rewardctl",
		Short:         "Operate highlight ranking, retention rewards and the ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newRankCommand(opts))
	cmd.AddCommand(newRewardCommand(opts))
	cmd.AddCommand(newBalanceCommand(opts))
	cmd.AddCommand(newTransactionsCommand(opts))
	cmd.AddCommand(newTransferCommand(opts))
	cmd.AddCommand(newAdjustCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))
	return cmd
}

func openApp(ctx context.Context, verbose bool) (*app.App, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	logger := applog.NewLogger(cfg.AppEnv)
	if !verbose {
		logger = logger.Level(zerolog.WarnLevel)
	}
	return app.New(ctx, cfg, logger)
}

// withApp opens the application for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.Open(ctx, opts.Verbose)
	if err != nil {
		return fmt.Errorf("open app: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}
