// Package records reads the per-child profile and session history used by
// analysis mode.
package records

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a profile does not exist.
var ErrNotFound = errors.New("profile not found")

// Profile is the privacy-reduced view of a child in the program. Only the
// alias is ever shown to a model.
type Profile struct {
	ID              string    `json:"id"`
	Alias           string    `json:"alias"`
	AgeBracket      string    `json:"ageBracket"`
	LiteracyLevel   string    `json:"literacyLevel"`
	SchoolingStatus string    `json:"schoolingStatus"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Session is one tutoring session record.
type Session struct {
	ID              string         `json:"id"`
	ProfileID       string         `json:"profileId"`
	Date            time.Time      `json:"date"`
	DurationMinutes int            `json:"durationMinutes"`
	Scores          map[string]int `json:"scores"`
	Notes           string         `json:"notes"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Source is the read side analysis mode depends on.
type Source interface {
	// Profile returns the profile or ErrNotFound.
	Profile(ctx context.Context, id string) (*Profile, error)

	// Recent returns at most limit sessions of the profile, newest first.
	// When ids is non-empty only those sessions are considered.
	Recent(ctx context.Context, profileID string, limit int, ids []string) ([]Session, error)
}
