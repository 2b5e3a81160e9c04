package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/versebound/verseledger/internal/engine"
	"github.com/versebound/verseledger/internal/schema"
)

var (
	sessionSong    string
	sessionScores  []string
	sessionMinutes int
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	GroupID: "practice",
	Short:   "Record a completed performance session",
	Long: `Record a performance session for a song, one score per line.

Each --line flag carries "index:score" where score is 0-100. Lines scoring
below 70 are treated as lapses and their cards come due sooner.

Example:
  vl session --song song-1 --line 0:95 --line 1:40 --line 2:82`,
	Run: func(cmd *cobra.Command, args []string) {
		if sessionSong == "" {
			fatalf("--song is required")
		}
		if len(sessionScores) == 0 {
			fatalf("at least one --line index:score is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		catalog, err := openCatalog(cfg.Songs.CatalogPath)
		if err != nil {
			fatalf("%v", err)
		}
		lyrics := catalog.lines(sessionSong)

		var lines []schema.SessionLine
		var total float64
		for _, raw := range sessionScores {
			line, err := parseLineScore(raw, lyrics)
			if err != nil {
				fatalf("%v", err)
			}
			lines = append(lines, line)
			total += line.Score
		}

		eng, _, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		completed := time.Now()
		id, err := eng.SaveSession(context.Background(), &engine.SessionParams{
			SongID:      sessionSong,
			TotalScore:  total / float64(len(lines)),
			StartedAt:   completed.Add(-time.Duration(sessionMinutes) * time.Minute),
			CompletedAt: completed,
			Lines:       lines,
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Recorded session %s (%d lines)\n", id, len(lines))
	},
}

// parseLineScore turns "index:score" into a SessionLine, pulling the
// expected text from the catalog when available.
func parseLineScore(raw string, lyrics []string) (schema.SessionLine, error) {
	var line schema.SessionLine

	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return line, fmt.Errorf("bad --line %q, want index:score", raw)
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil || index < 0 {
		return line, fmt.Errorf("bad line index in %q", raw)
	}
	score, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || score < 0 || score > 100 {
		return line, fmt.Errorf("bad score in %q, want 0-100", raw)
	}

	line.LineIndex = index
	line.Score = score
	line.NeedsPractice = score < 70
	if index < len(lyrics) {
		line.ExpectedText = lyrics[index]
	} else {
		line.ExpectedText = fmt.Sprintf("line %d", index)
	}
	return line, nil
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "practice",
	Short:   "Show recent sessions and drills",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		ctx := context.Background()
		sessions, err := eng.GetHistory(ctx, historyLimit)
		if err != nil {
			fatalf("%v", err)
		}
		drills, err := eng.GetDrillHistory(ctx, historyLimit)
		if err != nil {
			fatalf("%v", err)
		}

		if len(sessions) == 0 && len(drills) == 0 {
			fmt.Println("No practice history yet.")
			return
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s by %s  score %.0f  (%d lines)%s\n",
				s.CompletedAt.Format("2006-01-02 15:04"),
				s.SongTitle, s.ArtistName, s.TotalScore, len(s.Lines),
				syncedTag(s.Synced))
		}
		for _, d := range drills {
			fmt.Printf("%s  drill %d/%d correct%s\n",
				d.CompletedAt.Format("2006-01-02 15:04"),
				d.CardsCorrect, d.CardsReviewed, syncedTag(d.Synced))
		}
	},
}

func syncedTag(synced bool) string {
	if synced {
		return ""
	}
	return "  [unsynced]"
}

func init() {
	sessionCmd.Flags().StringVar(&sessionSong, "song", "", "song id from the catalog")
	sessionCmd.Flags().StringArrayVar(&sessionScores, "line", nil, "line result as index:score (repeatable)")
	sessionCmd.Flags().IntVar(&sessionMinutes, "minutes", 5, "session duration in minutes")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries per list (0 = all)")

	rootCmd.AddCommand(sessionCmd, historyCmd)
}
