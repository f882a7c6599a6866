package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dramcove/catalog-cli/internal/queue"
	"github.com/dramcove/catalog-cli/internal/resilience"
)

var (
	dlqErrorType string
	dlqDomain    string
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay the dead letter queue",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListDLQ(cmd.Context(), resilience.DLQFilter{
			ErrorType: dlqErrorType,
			Domain:    dlqDomain,
		})
		if err != nil {
			return err
		}

		for _, e := range entries {
			fmt.Printf("%s  %-9s retries %d/%d  next %s  %s\n",
				e.ID, e.ErrorType, e.RetryCount, e.MaxRetries,
				e.NextRetryAt.Format("2006-01-02 15:04"), e.URL)
		}
		fmt.Printf("%d entries\n", len(entries))
		return nil
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Resubmit transient dead letters whose retry time has come",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := queue.ReplayDLQ(ctx, env.Store, env.Pipeline, cfg.Queue.MaxConcurrent)
		if err != nil {
			return err
		}
		fmt.Printf("replayed %d: %d succeeded, %d failed\n",
			sum.Processed, sum.Succeeded, sum.Failed)
		return nil
	},
}

func init() {
	dlqListCmd.Flags().StringVar(&dlqErrorType, "error-type", "", "filter by error type (transient/permanent)")
	dlqListCmd.Flags().StringVar(&dlqDomain, "domain", "", "filter by domain")
	dlqCmd.AddCommand(dlqListCmd, dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}
