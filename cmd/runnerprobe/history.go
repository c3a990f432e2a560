package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/torosent/runnerprobe/internal/history"
	"github.com/torosent/runnerprobe/internal/output"
)

const defaultHistoryLimit = 20

var errNoHistory = errors.New("--history-db is required")

func newHistoryCommand(stdout io.Writer) *cobra.Command {
	var (
		dbPath  string
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show the full report of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return errNoHistory
			}
			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				entries, err := store.List(limit)
				if err != nil {
					return err
				}
				output.PrintHistory(stdout, entries)
				return nil
			}

			result, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return output.PrintJSONReport(stdout, result)
			}
			output.PrintReport(stdout, result)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "history-db", "", "History database written by previous runs")
	cmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "Maximum number of runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json-output", false, "Emit the selected run as JSON")
	return cmd
}
