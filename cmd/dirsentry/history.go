package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Hara602/dirSentry/internal/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently blocked attempts",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of entries")
	viper.BindPFlag("history.limit", historyCmd.Flags().Lookup("limit"))

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.Monitor.Journal == "" {
		return fmt.Errorf("journal is disabled (monitor.journal is empty)")
	}
	j, err := journal.Open(cfg.Monitor.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), viper.GetInt("history.limit"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No blocked attempts recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPID\tPROCESS\tFILE")
	for _, e := range entries {
		file := e.FilePath
		if e.Truncated {
			file += " (possibly truncated)"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.ReceivedAt.Local().Format(time.DateTime), e.PID, e.ProcessImage, file)
	}
	return w.Flush()
}
