package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/store"
)

var (
	enrichAll   bool
	enrichLimit int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [fingerprint]",
	Short: "Search for additional sources to fill record gaps",
	Long:  "Runs an enrichment pass for one record, or with --all for every non-terminal record below the source target.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(args) == 0 && !enrichAll {
			return eris.New("pass a fingerprint or --all")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var records []model.ProductRecord
		if len(args) == 1 {
			rec, err := env.Store.GetByFingerprint(ctx, args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return eris.Errorf("no record with fingerprint %s", args[0])
			}
			records = []model.ProductRecord{*rec}
		} else {
			records, err = env.Store.ListRecords(ctx, store.RecordFilter{Limit: enrichLimit})
			if err != nil {
				return err
			}
		}

		var passes, improved int
		for _, rec := range records {
			if rec.Status.IsTerminal() || (enrichAll && rec.SourceCount >= cfg.Enrich.TargetSources) {
				continue
			}
			res, err := env.Enricher.Enrich(ctx, &rec)
			if err != nil {
				zap.L().Warn("enrich pass failed",
					zap.String("fingerprint", rec.Fingerprint), zap.Error(err))
				continue
			}
			passes++
			if res.SourcesAfter > res.SourcesBefore {
				improved++
			}
			fmt.Printf("%s %q: sources %d -> %d, score %d -> %d, status %s\n",
				res.Fingerprint, rec.Name,
				res.SourcesBefore, res.SourcesAfter,
				res.ScoreBefore, res.ScoreAfter, res.Status)
		}

		fmt.Printf("enriched %d records, %d gained sources\n", passes, improved)
		return nil
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichAll, "all", false, "enrich every record below the source target")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 100, "max records to consider with --all")
	rootCmd.AddCommand(enrichCmd)
}
