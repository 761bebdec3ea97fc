package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/store"
)

var (
	runsBatch    string
	runsProperty string
	runsStatus   string
	runsLimit    int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List audit runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{
			BatchID:    runsBatch,
			PropertyID: runsProperty,
			Status:     model.RunStatus(runsStatus),
			Limit:      runsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "runs: list")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsBatch, "batch", "", "filter by batch ID")
	runsCmd.Flags().StringVar(&runsProperty, "property", "", "filter by property ID")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by run status")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 50, "maximum runs to return")
	rootCmd.AddCommand(runsCmd)
}
