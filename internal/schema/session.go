package schema

import (
	"fmt"
	"time"
)

// SessionLine is one scored lyric line inside a performance session.
type SessionLine struct {
	LineIndex       int     `json:"line_index"`
	ExpectedText    string  `json:"expected_text"`
	TranscribedText string  `json:"transcribed_text,omitempty"`
	Score           float64 `json:"score"` // 0-100
	NeedsPractice   bool    `json:"needs_practice"`
}

// PerformanceSession records one completed performance. It is created once at
// session completion and is immutable afterwards except for the synced flag.
type PerformanceSession struct {
	SessionID  string        `json:"session_id"`
	SongID     string        `json:"song_id"`
	SongTitle  string        `json:"song_title"`
	ArtistName string        `json:"artist_name,omitempty"`
	TotalScore float64       `json:"total_score"` // 0-100
	StartedAt  time.Time     `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Lines      []SessionLine `json:"lines"`

	// Local-only bookkeeping.
	Synced       bool      `json:"synced"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks field values before persistence.
func (s *PerformanceSession) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if s.SongID == "" {
		return fmt.Errorf("song_id is required")
	}
	if s.TotalScore < 0 || s.TotalScore > 100 {
		return fmt.Errorf("total_score must be between 0 and 100 (got %g)", s.TotalScore)
	}
	if s.CompletedAt.IsZero() {
		return fmt.Errorf("completed_at is required")
	}
	for i, ln := range s.Lines {
		if ln.LineIndex < 0 {
			return fmt.Errorf("line %d: line_index must be non-negative", i)
		}
		if ln.Score < 0 || ln.Score > 100 {
			return fmt.Errorf("line %d: score must be between 0 and 100 (got %g)", i, ln.Score)
		}
	}
	return nil
}

// DrillSession records one standalone review session (no performance involved).
type DrillSession struct {
	SessionID     string    `json:"session_id"`
	CardsReviewed int       `json:"cards_reviewed"`
	CardsCorrect  int       `json:"cards_correct"`
	SessionDate   int       `json:"session_date"` // YYYYMMDD
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`

	// Local-only bookkeeping.
	Synced       bool      `json:"synced"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks field values before persistence.
func (d *DrillSession) Validate() error {
	if d.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if d.CardsReviewed < 0 {
		return fmt.Errorf("cards_reviewed must be non-negative (got %d)", d.CardsReviewed)
	}
	if d.CardsCorrect < 0 || d.CardsCorrect > d.CardsReviewed {
		return fmt.Errorf("cards_correct must be between 0 and cards_reviewed (got %d of %d)",
			d.CardsCorrect, d.CardsReviewed)
	}
	if d.SessionDate < 19700101 || d.SessionDate > 99991231 {
		return fmt.Errorf("session_date must be a YYYYMMDD integer (got %d)", d.SessionDate)
	}
	return nil
}

// SessionDateOf formats a timestamp as the YYYYMMDD integer used by drill
// sessions.
func SessionDateOf(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
