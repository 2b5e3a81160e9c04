package schema

import (
	"fmt"
	"time"
)

// CardState is the lifecycle stage of a review card.
type CardState int

const (
	StateNew        CardState = 0
	StateLearning   CardState = 1
	StateReview     CardState = 2
	StateRelearning CardState = 3
)

// String returns the human-readable name of the state.
func (s CardState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLearning:
		return "learning"
	case StateReview:
		return "review"
	case StateRelearning:
		return "relearning"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ReviewCard holds the scheduling state for one reviewable lyric line.
// There is exactly one card per (song_id, line_index) for the local owner.
//
// Difficulty is fixed-point (x1000 of a 0-10 scale) and stability is
// fixed-point (x100 of a day count). Integer arithmetic keeps the local
// scheduler and the remote conflict-resolution clause bit-identical.
type ReviewCard struct {
	SongID    string `json:"song_id"`
	LineIndex int    `json:"line_index"`
	LineText  string `json:"line_text"`

	Difficulty    int       `json:"difficulty"`     // x1000
	Stability     int       `json:"stability"`      // hundredths of a day
	ElapsedDays   int       `json:"elapsed_days"`
	ScheduledDays int       `json:"scheduled_days"` // 1-365
	Reps          int       `json:"reps"`
	Lapses        int       `json:"lapses"`
	State         CardState `json:"state"`

	LastReview *time.Time `json:"last_review,omitempty"`
	DueDate    time.Time  `json:"due_date"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Local-only bookkeeping, never written to the ledger.
	Synced       bool      `json:"synced"`
	LastModified time.Time `json:"last_modified"`
}

// Key returns the composite identity of the card.
func (c *ReviewCard) Key() string {
	return fmt.Sprintf("%s:%d", c.SongID, c.LineIndex)
}

// Validate checks field values before persistence.
func (c *ReviewCard) Validate() error {
	if c.SongID == "" {
		return fmt.Errorf("song_id is required")
	}
	if c.LineIndex < 0 {
		return fmt.Errorf("line_index must be non-negative (got %d)", c.LineIndex)
	}
	if c.State < StateNew || c.State > StateRelearning {
		return fmt.Errorf("state must be between 0 and 3 (got %d)", int(c.State))
	}
	if c.ScheduledDays < 1 || c.ScheduledDays > 365 {
		return fmt.Errorf("scheduled_days must be between 1 and 365 (got %d)", c.ScheduledDays)
	}
	if c.Reps < 0 {
		return fmt.Errorf("reps must be non-negative (got %d)", c.Reps)
	}
	if c.Lapses < 0 {
		return fmt.Errorf("lapses must be non-negative (got %d)", c.Lapses)
	}
	if c.DueDate.IsZero() {
		return fmt.Errorf("due_date is required")
	}
	return nil
}
