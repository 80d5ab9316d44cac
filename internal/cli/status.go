package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/indexing/reconcile"
	"github.com/vietddude/chainscan/internal/infra/storage/sqlstore"
)

var statusCmd = &cobra.Command{
	Use:   "status [chain]",
	Short: "Show pending wallet-originated transactions of a chain",
	Args:  cobra.ExactArgs(1),
	Run:   runStatus,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Run:   runMigrate,
}

func init() {
	statusCmd.Flags().StringVar(&networkFlag, "network", "", "only rows of this network")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func openDB(ctx context.Context, cfg sqlstore.Config) *sqlstore.DB {
	if cfg.URL == "" {
		slog.Error("database.url is not configured")
		os.Exit(1)
	}
	db, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return db
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	db := openDB(ctx, cfg.Database)
	defer func() {
		_ = db.Close()
	}()

	rows, err := sqlstore.NewTxRepo(db).FindPending(ctx, domain.ChainID(args[0]), networkFlag, reconcile.MaxRowsPerPass)
	if err != nil {
		slog.Error("Failed to query pending transactions", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tHASH\tCREATED")
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", row.ID, row.TransactionHash, row.CreatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	db := openDB(ctx, cfg.Database)
	defer func() {
		_ = db.Close()
	}()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Migrations applied")
}
