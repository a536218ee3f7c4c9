package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "clickprop",
	Short: "Marketing click identifier propagation",
	Long:  "Captures gclid, msclkid, fbclid and session_id from landing URLs, persists them per visitor, and carries them onto outbound links, buttons and forms.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
