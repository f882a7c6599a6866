package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dramcove/catalog-cli/internal/pipeline"
	"github.com/dramcove/catalog-cli/internal/queue"
)

var (
	batchConcurrency int
	batchTypeHint    string
)

var batchCmd = &cobra.Command{
	Use:   "batch <url-file>",
	Short: "Process a file of product page URLs, one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open url file")
		}
		defer f.Close()

		var jobs []queue.Job
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			jobs = append(jobs, queue.Job{
				URL: line,
				Context: pipeline.Context{
					ProductTypeHint: batchTypeHint,
					DiscoverySource: "batch",
				},
			})
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrap(err, "read url file")
		}
		if len(jobs) == 0 {
			return eris.New("no urls in file")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency == 0 {
			concurrency = cfg.Queue.MaxConcurrent
		}
		sum, err := queue.Run(ctx, jobs, concurrency, env.Pipeline)
		if err != nil {
			return err
		}

		fmt.Printf("processed %d: %d succeeded (%d new, %d merged), %d failed\n",
			sum.Processed, sum.Succeeded, sum.Created, sum.Merged, sum.Failed)
		for status, n := range sum.ByStatus {
			fmt.Printf("  %s: %d\n", status, n)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max URLs in flight (default from config)")
	batchCmd.Flags().StringVar(&batchTypeHint, "type-hint", "", "product type hint applied to every URL")
	rootCmd.AddCommand(batchCmd)
}
