package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainscan/internal/core/domain"
)

var (
	assetFlag   string
	networkFlag string
)

var balanceCmd = &cobra.Command{
	Use:   "balance [chain] [address]",
	Short: "Query the balance of an address",
	Args:  cobra.ExactArgs(2),
	Run:   runBalance,
}

var txsCmd = &cobra.Command{
	Use:   "txs [chain] [address]",
	Short: "List the normalized transactions of an address",
	Args:  cobra.ExactArgs(2),
	Run:   runTxs,
}

func init() {
	for _, c := range []*cobra.Command{balanceCmd, txsCmd} {
		c.Flags().StringVar(&assetFlag, "asset", "", "asset key (contract, token id or _ for native)")
		c.Flags().StringVar(&networkFlag, "network", "", "network name (default from config)")
		rootCmd.AddCommand(c)
	}
}

func currencyArg(chainID string) domain.CurrencyContext {
	return domain.CurrencyContext{
		Chain:   domain.ChainID(chainID),
		Network: networkFlag,
		Asset:   assetFlag,
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("Failed to encode output", "error", err)
		os.Exit(1)
	}
}

func runBalance(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app := newApp(ctx, cfg)
	defer app.Close()

	rec, err := app.Engine().GetBalance(ctx, args[1], currencyArg(args[0]))
	if err != nil {
		slog.Error("Balance query failed", "error", err)
		os.Exit(1)
	}
	if rec == nil {
		fmt.Println("No balance record")
		return
	}
	printJSON(rec)
}

func runTxs(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app := newApp(ctx, cfg)
	defer app.Close()

	txs, err := app.Engine().GetTransactions(ctx, domain.ScanContext{
		CurrencyContext: currencyArg(args[0]),
		Address:         args[1],
	})
	if err != nil {
		slog.Error("Transaction query failed", "error", err)
		os.Exit(1)
	}
	printJSON(txs)
}
