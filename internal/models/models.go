// Package models defines types shared across internal packages.
package models

import "time"

// SyncState is the observable state of the sync engine.
type SyncState int

const (
	Disconnected SyncState = iota
	NeedsSync
	Syncing
	InSync
	Failed
)

func (s SyncState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case NeedsSync:
		return "NEEDS_SYNC"
	case Syncing:
		return "SYNCING"
	case InSync:
		return "IN_SYNC"
	case Failed:
		return "FAILED"
	}

	return "UNKNOWN"
}

// RemoteRecord is one document entry in the remote application-data
// namespace. Name is the logical document name with the remote filename
// suffix already stripped.
type RemoteRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime_type"`
	ModifiedTime time.Time `json:"modified_time"`
}

// LocalRecord is a document as held by the local store.
type LocalRecord struct {
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modified_time"`
	Contents     []byte    `json:"-"`
}

// SyncAction is what a pass does for a single document.
type SyncAction int

const (
	ActionNone SyncAction = iota
	ActionUpload
	ActionDownload
)

func (a SyncAction) String() string {
	switch a {
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	}

	return "none"
}

// SyncDecision pairs a document name with the action chosen for it and
// the records it was chosen from. Either record may be nil.
type SyncDecision struct {
	Name   string
	Action SyncAction
	Local  *LocalRecord
	Remote *RemoteRecord
}

// PassReport summarizes one synchronization pass.
type PassReport struct {
	State      string    `json:"state" yaml:"state"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Uploaded   int       `json:"uploaded" yaml:"uploaded"`
	Downloaded int       `json:"downloaded" yaml:"downloaded"`
	Unchanged  int       `json:"unchanged" yaml:"unchanged"`
	Skipped    int       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}
