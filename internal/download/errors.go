package download

import "errors"

// Sentinel errors for download operations.
var (
	ErrInvalidArgument     = errors.New("download: invalid argument")
	ErrInternalConsistency = errors.New("download: saved length does not match downloaded length")
	ErrUnhandledFailure    = errors.New("download: failure has no handler")
)
