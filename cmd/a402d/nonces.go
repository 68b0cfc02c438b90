package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitwit/a402/logger"
	"github.com/vitwit/a402/nonce"
)

func newNoncesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nonces",
		Short: "Inspect and maintain the nonce store",
	}

	cmd.AddCommand(newNoncesPruneCmd())
	cmd.AddCommand(newNoncesShowCmd())

	return cmd
}

func newNoncesPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete consumed nonces whose challenge expired more than the grace period ago",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l nonce.Ledger) error {
				p, ok := l.(nonce.Pruner)
				if !ok {
					fmt.Println("store expires records by itself, nothing to prune")
					return nil
				}

				n, err := p.Prune(ctx, time.Now())
				if err != nil {
					return fmt.Errorf("pruning nonces: %w", err)
				}
				fmt.Printf("pruned %d nonces\n", n)
				return nil
			})
		},
	}
}

func newNoncesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <nonce>",
		Short: "Show whether a nonce has been consumed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l nonce.Ledger) error {
				rec, err := l.Peek(ctx, args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					fmt.Printf("nonce %q has not been consumed\n", args[0])
					return nil
				}
				return printJSON(rec)
			})
		},
	}
}

func withLedger(ctx context.Context, fn func(context.Context, nonce.Ledger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.NewZapLogger("error", "console")
	if err != nil {
		return err
	}
	app := &app{cfg: cfg, log: log}
	defer app.Close()

	if err := app.openStores(ctx); err != nil {
		return err
	}
	return fn(ctx, app.nonces)
}
