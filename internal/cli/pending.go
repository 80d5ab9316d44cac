package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainscan/internal/core/domain"
)

var trackCmd = &cobra.Command{
	Use:   "track [chain] [tx_hash]",
	Short: "Record a wallet-originated transaction for reconciliation",
	Args:  cobra.ExactArgs(2),
	Run:   runTrack,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [chain]",
	Short: "Run one reconciliation pass over pending transactions",
	Args:  cobra.ExactArgs(1),
	Run:   runReconcile,
}

func init() {
	trackCmd.Flags().StringVar(&assetFlag, "asset", "", "asset key of the transfer")
	for _, c := range []*cobra.Command{trackCmd, reconcileCmd} {
		c.Flags().StringVar(&networkFlag, "network", "", "network name (default from config)")
	}
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func runTrack(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	app := newApp(ctx, cfg)
	defer app.Close()

	cc := domain.CurrencyContext{Chain: domain.ChainID(args[0]), Network: networkFlag, Asset: assetFlag}
	id, err := app.Engine().TrackTransaction(ctx, cc, args[1])
	if err != nil {
		slog.Error("Failed to track transaction", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Tracking %s on %s as row %d\n", args[1], args[0], id)
}

func runReconcile(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app := newApp(ctx, cfg)
	defer app.Close()

	cc := domain.CurrencyContext{Chain: domain.ChainID(args[0]), Network: networkFlag}
	confirmed, err := app.Engine().ReconcilePending(ctx, domain.ScanContext{CurrencyContext: cc})
	if err != nil {
		slog.Error("Reconciliation failed", "chain", cc.Chain, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Reconciled %s: confirmed=%t state=%s\n", cc, confirmed, app.Engine().PendingState(cc))
}
