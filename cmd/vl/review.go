package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/versebound/verseledger/internal/engine"
)

var dueLimit int

var dueCmd = &cobra.Command{
	Use:     "due",
	GroupID: "practice",
	Short:   "List cards due for review, soonest first",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		cards, err := eng.GetDueCards(context.Background(), dueLimit)
		if err != nil {
			fatalf("%v", err)
		}
		if len(cards) == 0 {
			fmt.Println("No cards due. Nice work.")
			return
		}
		for _, card := range cards {
			fmt.Printf("%s line %d  due %s  (reps %d, lapses %d)\n",
				card.SongID, card.LineIndex,
				card.DueDate.Format("2006-01-02"),
				card.Reps, card.Lapses)
			if card.LineText != "" {
				fmt.Printf("    %s\n", card.LineText)
			}
		}
	},
}

var reviewCmd = &cobra.Command{
	Use:     "review <song-id> <line-index> <correct|incorrect>",
	GroupID: "practice",
	Short:   "Record one review outcome for a card",
	Args:    cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		lineIndex, err := strconv.Atoi(args[1])
		if err != nil {
			fatalf("line index must be a number: %v", err)
		}
		var wasCorrect bool
		switch args[2] {
		case "correct":
			wasCorrect = true
		case "incorrect":
			wasCorrect = false
		default:
			fatalf("outcome must be 'correct' or 'incorrect', got %q", args[2])
		}

		eng, _, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		ctx := context.Background()
		if err := eng.UpdateCardReview(ctx, args[0], lineIndex, wasCorrect); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Recorded %s for %s line %d\n", args[2], args[0], lineIndex)
	},
}

var (
	drillReviewed int
	drillCorrect  int
	drillMinutes  int
)

var drillCmd = &cobra.Command{
	Use:     "drill",
	GroupID: "practice",
	Short:   "Record a completed review drill",
	Long: `Record a completed drill session: how many due cards were reviewed
and how many were answered correctly. Individual card outcomes should be
recorded with 'vl review' as the drill progresses.`,
	Run: func(cmd *cobra.Command, args []string) {
		if drillReviewed <= 0 {
			fatalf("--reviewed must be positive")
		}
		if drillCorrect < 0 || drillCorrect > drillReviewed {
			fatalf("--correct must be between 0 and --reviewed")
		}

		eng, _, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		completed := time.Now()
		id, err := eng.SaveDrillSession(context.Background(), &engine.DrillParams{
			CardsReviewed: drillReviewed,
			CardsCorrect:  drillCorrect,
			StartedAt:     completed.Add(-time.Duration(drillMinutes) * time.Minute),
			CompletedAt:   completed,
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Recorded drill %s: %d/%d correct\n", id, drillCorrect, drillReviewed)
	},
}

func init() {
	dueCmd.Flags().IntVar(&dueLimit, "limit", 0, "maximum cards to list (0 = all)")

	drillCmd.Flags().IntVar(&drillReviewed, "reviewed", 0, "cards reviewed in the drill")
	drillCmd.Flags().IntVar(&drillCorrect, "correct", 0, "cards answered correctly")
	drillCmd.Flags().IntVar(&drillMinutes, "minutes", 10, "drill duration in minutes")

	rootCmd.AddCommand(dueCmd, reviewCmd, drillCmd)
}
