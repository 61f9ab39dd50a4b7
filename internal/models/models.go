// Package models defines the records persisted by fetchpool.
package models

import "time"

// Outcome is the final result of a download attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// HistoryEntry records one finished download attempt.
type HistoryEntry struct {
	ID         string    `json:"id"`
	SerialID   int       `json:"serial_id"`
	Tag        string    `json:"tag,omitempty"`
	URI        string    `json:"uri"`
	Path       string    `json:"path"`
	Outcome    Outcome   `json:"outcome"`
	Length     int64     `json:"length"`
	Message    string    `json:"message,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// ActionRecord is an audit entry for a state-mutating control plane call.
type ActionRecord struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	SerialID   int       `json:"serial_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
