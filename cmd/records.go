package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/store"
)

var (
	recordsStatus   string
	recordsBrand    string
	recordsType     string
	recordsMinScore int
	recordsLimit    int
	exportOut       string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and curate catalog records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records matching the given filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Store.ListRecords(cmd.Context(), recordsFilter())
		if err != nil {
			return err
		}

		for _, r := range records {
			fmt.Printf("%s  %-10s %3d  %dx  %s\n",
				r.Fingerprint, r.Status, r.CompletenessScore, r.SourceCount, r.Name)
		}
		fmt.Printf("%d records\n", len(records))
		return nil
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <fingerprint>",
	Short: "Print one record as JSON, including its conflict log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Store.GetByFingerprint(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return eris.Errorf("no record with fingerprint %s", args[0])
		}
		conflicts, err := env.Store.ListConflicts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rec.Conflicts = conflicts

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var recordsRejectCmd = &cobra.Command{
	Use:   "reject <fingerprint>",
	Short: "Mark a record rejected (terminal, curation only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.SetRecordStatus(cmd.Context(), args[0], model.StatusRejected); err != nil {
			return err
		}
		fmt.Printf("rejected %s\n", args[0])
		return nil
	},
}

var recordsMergeCmd = &cobra.Command{
	Use:   "merge <loser-fingerprint> <winner-fingerprint>",
	Short: "Mark a duplicate record merged into another (terminal)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		winner, err := env.Store.GetByFingerprint(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if winner == nil {
			return eris.Errorf("winner record %s does not exist", args[1])
		}
		if err := env.Store.SetRecordStatus(cmd.Context(), args[0], model.StatusMerged); err != nil {
			return err
		}
		fmt.Printf("merged %s into %s\n", args[0], args[1])
		return nil
	},
}

var recordsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export records matching the filters to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Store.ListRecords(cmd.Context(), recordsFilter())
		if err != nil {
			return err
		}

		f := xlsx.NewFile()
		sheet, err := f.AddSheet("Records")
		if err != nil {
			return eris.Wrap(err, "export: add sheet")
		}

		header := sheet.AddRow()
		for _, h := range []string{
			"Fingerprint", "Name", "Brand", "Type", "GTIN", "ABV",
			"Score", "Status", "Sources", "Palate", "Price", "Updated",
		} {
			header.AddCell().SetString(h)
		}

		for _, r := range records {
			row := sheet.AddRow()
			row.AddCell().SetString(r.Fingerprint)
			row.AddCell().SetString(r.Name)
			row.AddCell().SetString(r.Brand)
			row.AddCell().SetString(r.ProductType)
			row.AddCell().SetString(r.GTIN)
			if r.ABV != nil {
				row.AddCell().SetString(strconv.FormatFloat(*r.ABV, 'f', 1, 64))
			} else {
				row.AddCell().SetString("")
			}
			row.AddCell().SetInt(r.CompletenessScore)
			row.AddCell().SetString(string(r.Status))
			row.AddCell().SetInt(r.SourceCount)
			row.AddCell().SetString(r.Tasting.PalateText)
			if r.BestPrice != nil {
				row.AddCell().SetString(fmt.Sprintf("%.2f %s", r.BestPrice.Amount, r.BestPrice.Currency))
			} else {
				row.AddCell().SetString("")
			}
			row.AddCell().SetString(r.UpdatedAt.Format("2006-01-02"))
		}

		if err := f.Save(exportOut); err != nil {
			return eris.Wrap(err, "export: save workbook")
		}
		fmt.Printf("wrote %d records to %s\n", len(records), exportOut)
		return nil
	},
}

func recordsFilter() store.RecordFilter {
	return store.RecordFilter{
		Status:      model.Status(recordsStatus),
		Brand:       recordsBrand,
		ProductType: recordsType,
		MinScore:    recordsMinScore,
		Limit:       recordsLimit,
	}
}

func init() {
	for _, c := range []*cobra.Command{recordsListCmd, recordsExportCmd} {
		c.Flags().StringVar(&recordsStatus, "status", "", "filter by status")
		c.Flags().StringVar(&recordsBrand, "brand", "", "filter by brand (case-insensitive)")
		c.Flags().StringVar(&recordsType, "type", "", "filter by product type")
		c.Flags().IntVar(&recordsMinScore, "min-score", 0, "minimum completeness score")
		c.Flags().IntVar(&recordsLimit, "limit", 100, "max records")
	}
	recordsExportCmd.Flags().StringVar(&exportOut, "out", "records.xlsx", "output file path")

	recordsCmd.AddCommand(recordsListCmd, recordsShowCmd, recordsRejectCmd, recordsMergeCmd, recordsExportCmd)
	rootCmd.AddCommand(recordsCmd)
}
