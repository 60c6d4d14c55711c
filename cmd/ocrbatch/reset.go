package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AnsonDev42/gemini-ocr-batch/internal/store"
)

var (
	resetState  string
	resetSchool string
	resetYear   int
)

var resetFailuresCmd = &cobra.Command{
	Use:   "reset-failures",
	Short: "Reset failure counters so dead-lettered records become schedulable",
	Long: `Delete failure counters matching the given filters. With no filters,
every counter is reset.

Examples:
  ocrbatch reset-failures --state CA
  ocrbatch reset-failures --state AL --school Howard --year 1849`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ResetFailures(store.ResetFilter{
			State:  resetState,
			School: resetSchool,
			Year:   resetYear,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Reset %d failure counter(s)\n", n)
		return nil
	},
}

func init() {
	resetFailuresCmd.Flags().StringVar(&resetState, "state", "", "filter by state")
	resetFailuresCmd.Flags().StringVar(&resetSchool, "school", "", "filter by school")
	resetFailuresCmd.Flags().IntVar(&resetYear, "year", 0, "filter by year")
}
