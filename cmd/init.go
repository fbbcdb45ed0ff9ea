package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kaiwa0/kaiwa/session"
)

// NewInitCmd creates the init command (factory pattern)
func NewInitCmd(store *session.Store) *cobra.Command {
	var tablesOnly bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Provision the conversation tables and search indexes",
		Long: `Creates the backing tables and search indexes for this deployment.
Existing tables and indexes are left untouched, so init is safe to
re-run, e.g. after changing the table prefix.

Search indexes take a short while to come online after creation;
searches against a fresh index may return nothing at first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), store, tablesOnly)
		},
	}
	cmd.Flags().BoolVar(&tablesOnly, "tables-only", false,
		"skip search index creation (for instances without search support)")
	return cmd
}

func runInit(ctx context.Context, store *session.Store, tablesOnly bool) error {
	if err := store.InitTables(ctx); err != nil {
		return fmt.Errorf("provision tables: %w", err)
	}
	fmt.Println("Tables ready.")

	if tablesOnly {
		return nil
	}

	if err := store.InitSearchIndex(ctx); err != nil {
		return fmt.Errorf("provision search indexes: %w", err)
	}
	fmt.Println("Search indexes ready.")
	return nil
}
