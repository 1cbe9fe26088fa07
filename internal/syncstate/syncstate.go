package syncstate

import (
	"context"
	"time"
)

// Status is the per-date position in the sync state machine.
type Status string

const (
	StatusUnsynced Status = "UNSYNCED"
	StatusSynced   Status = "SYNCED"
	StatusFailed   Status = "FAILED"
)

// SyncState is the persisted row for one calendar date.
//
// DataHash holds the fingerprint of the last payload the ingest service
// accepted. Failed attempts leave it untouched so the next run uploads again.
type SyncState struct {
	Date            string    `json:"date"`
	DataHash        string    `json:"data_hash"`
	LastSyncedAt    time.Time `json:"last_synced_at"`
	LastAttemptedAt time.Time `json:"last_attempted_at"`
	LastError       string    `json:"last_error,omitempty"`
	AttemptCount    int       `json:"attempt_count"`
}

// Status derives the state machine position from the row.
func (s SyncState) Status() Status {
	if s.AttemptCount > 0 {
		return StatusFailed
	}
	if s.DataHash == "" {
		return StatusUnsynced
	}
	return StatusSynced
}

// RecordSuccess returns the row after an accepted upload of hash.
func (s SyncState) RecordSuccess(hash string, at time.Time) SyncState {
	s.DataHash = hash
	s.LastSyncedAt = at
	s.LastAttemptedAt = at
	s.LastError = ""
	s.AttemptCount = 0
	return s
}

// RecordFailure returns the row after a failed attempt.
func (s SyncState) RecordFailure(reason string, at time.Time) SyncState {
	s.LastAttemptedAt = at
	s.LastError = reason
	s.AttemptCount++
	return s
}

// Store persists one SyncState per date. Implementations must be safe for
// concurrent use; each call is atomic on its own.
type Store interface {
	Get(ctx context.Context, date string) (SyncState, bool, error)
	Upsert(ctx context.Context, state SyncState) error
	// Update applies fn to the date's current row and stores the result
	// atomically, including against other processes sharing the backend.
	// fn receives a row carrying only Date when none exists.
	Update(ctx context.Context, date string, fn func(current SyncState, found bool) SyncState) (SyncState, error)
	ClearAll(ctx context.Context) error
	List(ctx context.Context) ([]SyncState, error)
}
