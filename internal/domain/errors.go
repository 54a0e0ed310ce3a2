package domain

import "errors"

// Sentinel errors shared across the engine. Callers classify failures with
// errors.Is; the ingestion and query layers wrap these with field detail.
var (
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidLevel     = errors.New("invalid log level")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrNotFound         = errors.New("log record not found")
	ErrStoreWrite       = errors.New("store write failed")
)

// IsValidation reports whether err is a client input failure rather than a
// systemic one.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidLevel) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInvalidQuery)
}
