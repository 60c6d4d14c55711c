package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/config"
	"github.com/AnsonDev42/gemini-ocr-batch/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print active batches, in-flight records, and failure counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		active, err := st.ListActiveBatches()
		if err != nil {
			return err
		}
		inflight, err := st.GetInflight()
		if err != nil {
			return err
		}
		kinds, err := st.FailureKindCounts()
		if err != nil {
			return err
		}
		top, err := st.TopFailingRecords(10)
		if err != nil {
			return err
		}

		fmt.Printf("Active batches: %d\n", len(active))
		for _, b := range active {
			fmt.Printf("  %s  %s  created %s\n", b.ID, b.DisplayName, b.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("In-flight records: %d\n", len(inflight))

		if len(kinds) > 0 {
			fmt.Println("Failure-log rows by kind:")
			for kind, n := range kinds {
				fmt.Printf("  %-28s %d\n", kind, n)
			}
		}
		if len(top) > 0 {
			fmt.Println("Top failing records:")
			for _, rf := range top {
				fmt.Printf("  %-32s %d\n", rf.RecordKey, rf.Count)
			}
		}
		return nil
	},
}

// openStore loads the configured database path and opens the state store.
func openStore() (*store.Store, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	return store.Open(cm.Get().Database.Path)
}
