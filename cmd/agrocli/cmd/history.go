package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"agrobot/internal/history"
	"agrobot/internal/metrics"
)

func init() {
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		hist := history.NewStore(history.Config{
			Blob:    e.prefs,
			Logger:  e.logger,
			Metrics: metrics.Global(),
		})
		hist.Load(ctx)

		entries := hist.Entries()
		if len(entries) == 0 {
			fmt.Println("No saved chats yet.")
			return nil
		}
		for i, entry := range entries {
			fmt.Printf("%2d. %s (%d messages, %s)\n",
				i+1, entry.Title, len(entry.Messages), entry.Timestamp.Format("2006-01-02 15:04"))
		}
		return nil
	},
}
