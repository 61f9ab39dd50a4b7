package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fentz26/fetchpool/internal/models"
	"github.com/fentz26/fetchpool/internal/store"
)

// Action outcomes stored in the actions table.
const (
	ActionSucceeded = "success"
	ActionFailed    = "error"
)

// Action is a state-changing control plane call.
type Action struct {
	// Name is a dotted verb such as "download.add" or "pool.pause".
	Name string
	// Request is fingerprinted, never stored.
	Request  any
	SerialID int
	Details  string
	// Err marks the action as failed. Its text replaces an empty Details.
	Err error
}

// ActionLog appends control plane actions to the store.
type ActionLog struct {
	store *store.Store
}

func NewActionLog(s *store.Store) *ActionLog {
	return &ActionLog{store: s}
}

// Log writes one record for a.
func (l *ActionLog) Log(a Action) (*models.ActionRecord, error) {
	fp, err := Fingerprint(a.Request)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s request: %w", a.Name, err)
	}
	outcome, details := ActionSucceeded, a.Details
	if a.Err != nil {
		outcome = ActionFailed
		if details == "" {
			details = a.Err.Error()
		}
	}
	return l.store.WriteAction(a.Name, fp, outcome, a.SerialID, details)
}

// Fingerprint is the hex SHA-256 of the JSON encoding of v. Map keys encode
// sorted, so equal requests share a fingerprint.
func Fingerprint(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
