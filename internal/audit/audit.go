// Package audit keeps a journal of changes made to the reference library.
package audit

import "time"

// Action describes what was done.
type Action string

const (
	ActionIngested  Action = "document_ingested"
	ActionReplaced  Action = "document_replaced"
	ActionEdited    Action = "document_edited"
	ActionDeleted   Action = "document_deleted"
	ActionReindexed Action = "library_reindexed"
)

// Entry is a single journal record.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Role       string    `json:"role,omitempty"`
	Action     Action    `json:"action"`
	DocumentID string    `json:"documentId,omitempty"`
	Summary    string    `json:"summary"`
	// Detail carries action-specific data, e.g. the changed fields of an edit.
	Detail map[string]string `json:"detail,omitempty"`
}
