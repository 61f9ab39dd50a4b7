package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound       = errors.New("download not found")
	ErrInvalidRequest = errors.New("invalid request")
)
