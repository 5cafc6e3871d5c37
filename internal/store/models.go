package store

import "time"

type Document struct {
	ID        string
	Title     string
	UpdatedBy string
	UpdatedAt time.Time
}

// Finding is one analysis result as recorded in the findings ledger after a
// highlight pass.
type Finding struct {
	ID         string
	DocumentID string
	Kind       string
	SearchText string
	Color      string
	Placed     bool
	Strategy   string
	Reason     string
	RecordedAt time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}
