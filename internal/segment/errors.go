package segment

import "errors"

// Sentinel errors for the segment package.
var (
	ErrNotFound       = errors.New("segment not found")
	ErrExclusionCycle = errors.New("segment exclusion chain contains a cycle")
	ErrInUse          = errors.New("segment is referenced by a campaign")
	ErrInvalidFilter  = errors.New("invalid segment filter")
)
