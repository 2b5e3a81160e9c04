package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "practice",
	Short:   "Show aggregate practice statistics",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		stats, err := eng.GetUserStats(context.Background())
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Sessions:        %d\n", stats.TotalSessions)
		fmt.Printf("Cards tracked:   %d\n", stats.TotalCards)
		fmt.Printf("Cards to review: %d\n", stats.CardsToReview)
		fmt.Printf("Average score:   %.1f\n", stats.AverageScore)
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		status, err := eng.GetSyncStatus(context.Background())
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Pending changes: %d\n", status.PendingChanges)
		if status.LastSyncTimestamp != nil {
			fmt.Printf("Last sync:       %s\n", status.LastSyncTimestamp.Format("2006-01-02 15:04:05 MST"))
		} else {
			fmt.Printf("Last sync:       never\n")
		}
		if status.SyncInProgress {
			fmt.Printf("Sync in progress\n")
		}
		if status.LastSyncError != "" {
			fmt.Printf("Last sync error: %s\n", status.LastSyncError)
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, statusCmd)
}
