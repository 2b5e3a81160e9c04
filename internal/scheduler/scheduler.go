// Package scheduler implements the closed-form spaced-repetition formula
// shared by the local store and the remote ledger.
//
// The formula is pure integer arithmetic over fixed-point fields so that the
// local Update function and the remote SQL conflict-resolution clause produce
// bit-identical card states. Any change here must be mirrored in the ledger
// package's card upsert statement.
package scheduler

import (
	"time"

	"github.com/versebound/verseledger/internal/schema"
)

// Fixed-point bounds and defaults. Stability is in hundredths of a day,
// difficulty in thousandths of a 0-10 scale.
const (
	DefaultDifficulty = 250
	DefaultStability  = 100

	MinStability = 100   // 1 day
	MaxStability = 36500 // 365 days

	MinScheduledDays = 1
	MaxScheduledDays = 365
)

// CorrectThreshold is the score fraction at or above which an attempt counts
// as correct.
const CorrectThreshold = 0.7

const day = 24 * time.Hour

// Correct derives the boolean outcome from a numeric score and its scale
// maximum (e.g. 100 for percentage scores).
func Correct(score, max float64) bool {
	if max <= 0 {
		return false
	}
	return score/max >= CorrectThreshold
}

// NewCard initializes scheduling state for a line that has never been
// reviewed. The caller runs the first outcome through Update immediately
// after.
func NewCard(songID string, lineIndex int, lineText string, now time.Time) schema.ReviewCard {
	return schema.ReviewCard{
		SongID:        songID,
		LineIndex:     lineIndex,
		LineText:      lineText,
		Difficulty:    DefaultDifficulty,
		Stability:     DefaultStability,
		ScheduledDays: MinScheduledDays,
		State:         schema.StateNew,
		DueDate:       now,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastModified:  now,
	}
}

// Update applies one review outcome to a card and returns the next state.
// It never fails: inputs are bounded and the arithmetic is total.
//
// Difficulty is deliberately left untouched after creation; only the
// stability/interval pair evolves.
func Update(card schema.ReviewCard, correct bool, now time.Time) schema.ReviewCard {
	lapse := 0
	if !correct {
		lapse = 1
	}

	if lapse == 1 {
		card.Stability = maxInt(card.Stability/2, MinStability)
		card.ScheduledDays = MinScheduledDays
	} else {
		card.Stability = minInt(card.Stability*2, MaxStability)
		card.ScheduledDays = minInt(card.ScheduledDays*2, MaxScheduledDays)
	}

	if card.LastReview == nil {
		card.ElapsedDays = 0
	} else {
		card.ElapsedDays = int(now.Sub(*card.LastReview) / day)
	}

	switch {
	case lapse == 1:
		card.State = schema.StateRelearning
	case card.Reps == 0:
		card.State = schema.StateLearning
	default:
		card.State = schema.StateReview
	}

	card.Reps++
	card.Lapses += lapse

	card.DueDate = now.Add(time.Duration(card.ScheduledDays) * day)
	reviewed := now
	card.LastReview = &reviewed
	card.UpdatedAt = now
	card.LastModified = now
	card.Synced = false

	return card
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
