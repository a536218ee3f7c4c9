package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the parameter store",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		b, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var storePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired parameter records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		b, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		n, err := store.NewParamStore(b, storeTTL(cfg.Store)).Prune(cmd.Context())
		if err != nil {
			return err
		}
		zap.L().Info("pruned expired records", zap.Int("count", n))
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeMigrateCmd, storePruneCmd)
	rootCmd.AddCommand(storeCmd)
}
