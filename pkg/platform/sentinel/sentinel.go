package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: no record exists for the lookup key
//   - ErrCorrupt: a persisted value could not be decoded
//   - ErrUnavailable: backing store temporarily unreachable
//
// For validation failures, use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrCorrupt     = errors.New("corrupt value")
	ErrUnavailable = errors.New("unavailable")
)
