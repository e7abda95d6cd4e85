package main

import (
	"context"
	"fmt"
	"time"

	"github.com/private-symposium-go/internal/services/quota"
	"github.com/private-symposium-go/internal/services/storage"
	"github.com/spf13/cobra"
)

func newResetQuotasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-quotas",
		Short: "Reset token usage for every free or planless account now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}

			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			storageManager, err := storage.NewManager(cfg, log, nil)
			if err != nil {
				return fmt.Errorf("initialize storage: %w", err)
			}
			defer storageManager.Close()

			ledger := quota.NewLedger(storageManager, &cfg.Quota, log)
			count, err := quota.NewScheduler(ledger, log, nil).RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("reset quotas (%d accounts reset before failure): %w", count, err)
			}

			fmt.Printf("reset %d accounts\n", count)
			return nil
		},
	}

	cmd.Flags().Duration("timeout", 5*time.Minute, "Abort the reset after this long")

	return cmd
}
