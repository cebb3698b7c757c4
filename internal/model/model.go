// Package model defines the domain types used across the application.
package model

import (
	"time"

	"cloud.google.com/go/civil"
)

// Subject is a tracked person whose activity feed is reconciled into streaks.
type Subject struct {
	ID    int64
	Login string
	Email string

	// LastEntryID is the newest feed entry of the last traversal that reached the cursor or the feed end.
	LastEntryID string

	CurrentStart  civil.Date
	CurrentEnd    civil.Date
	CurrentLength int

	LongestStart  civil.Date
	LongestEnd    civil.Date
	LongestLength int

	// Version is bumped on every write and guards against concurrent reconciliations.
	Version   int64
	CreatedAt time.Time
}

// ActivityDay records a calendar day on which a subject had qualifying activity.
type ActivityDay struct {
	SubjectID int64
	Day       civil.Date
	CreatedAt time.Time
}

// FeedEntry is a single entry of a subject's activity feed.
type FeedEntry struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}
