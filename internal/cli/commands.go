package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"radish-rewards/internal/app"
	"radish-rewards/internal/domain"
	"radish-rewards/migrations"
)

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations to PG_DSN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if a.Pool == nil {
					return errors.New("migrate requires PG_DSN")
				}
				entries, err := fs.ReadDir(migrations.FS, ".")
				if err != nil {
					return err
				}
				for _, e := range entries {
					if e.IsDir() {
						continue
					}
					sql, err := fs.ReadFile(migrations.FS, e.Name())
					if err != nil {
						return err
					}
					if _, err := a.Pool.Exec(ctx, string(sql)); err != nil {
						return fmt.Errorf("apply %s: %w", e.Name(), err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", e.Name())
				}
				return nil
			})
		},
	}
}

func newRankCommand(opts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Run the daily highlight ranking now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				statDate := a.Planner.StatDateFor(time.Now())
				if date != "" {
					parsed, err := time.ParseInLocation(time.DateOnly, date, a.Planner.Location())
					if err != nil {
						return fmt.Errorf("invalid --date %q: %w", date, err)
					}
					statDate = parsed
				}
				res, err := a.Runner.RunRanking(ctx, statDate)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "stat date YYYY-MM-DD (default: yesterday)")
	return cmd
}

func newRewardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reward",
		Short: "Grant due retention rewards now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Runner.RunRetention(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				bal, err := a.Ledger.GetOrCreateBalance(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), bal)
			})
		},
	}
}

func newTransactionsCommand(opts *RootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "transactions <user-id>",
		Short: "List ledger transactions of a user, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				txs, err := a.Ledger.ListTransactions(ctx, userID, limit, offset)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), txs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newTransferCommand(opts *RootOptions) *cobra.Command {
	var req domain.TransferRequest
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move funds between two users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return outcome(cmd, a.Ledger.Transfer(ctx, req))
			})
		},
	}
	cmd.Flags().Int64Var(&req.FromUserID, "from", 0, "sender user id")
	cmd.Flags().Int64Var(&req.ToUserID, "to", 0, "recipient user id")
	cmd.Flags().Int64Var(&req.Amount, "amount", 0, "amount to transfer")
	cmd.Flags().Int64Var(&req.Fee, "fee", 0, "fee charged to the sender")
	cmd.Flags().StringVar(&req.Note, "note", "", "transfer note")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newAdjustCommand(opts *RootOptions) *cobra.Command {
	var (
		delta      int64
		reason     string
		operatorID int64
	)
	cmd := &cobra.Command{
		Use:   "adjust <user-id>",
		Short: "Adjust a balance on behalf of an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return outcome(cmd, a.Ledger.AdminAdjust(ctx, userID, delta, reason, operatorID))
			})
		},
	}
	cmd.Flags().Int64Var(&delta, "delta", 0, "signed balance change")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the transaction")
	cmd.Flags().Int64Var(&operatorID, "operator", 0, "operator user id")
	_ = cmd.MarkFlagRequired("delta")
	_ = cmd.MarkFlagRequired("reason")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func newEventsCommand(opts *RootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Pop job events from the Redis event queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if a.Queue == nil {
					return errors.New("events requires REDIS_ADDR")
				}
				for i := 0; count <= 0 || i < count; i++ {
					event, err := a.Queue.Pop(ctx)
					if err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					if err := printJSON(cmd.OutOrStdout(), event); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "events to pop, 0 to follow")
	return cmd
}

func outcome(cmd *cobra.Command, out domain.TransferOutcome) error {
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("ledger: %s", out.FailureReason)
	}
	return nil
}
