// Package history collapses a user's play history into one entry per track.
package history

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// Unlimited is the limit to pass when every distinct track should be kept.
const Unlimited = math.MaxInt

// ErrInvalidEntry is matched by every ValidationError.
var ErrInvalidEntry = errors.New("invalid play history entry")

// Entry is a single playback event for one track. Payload is carried through
// untouched and is never inspected by this package.
type Entry[T any] struct {
	TrackID  string
	PlayedAt time.Time
	Payload  T
}

// ValidationError reports an unusable input. Index is -1 when the problem is
// not tied to a particular entry (e.g. a negative limit).
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("entry %d: %s %s", e.Index, e.Field, e.Reason)
}

// Is lets callers use errors.Is(err, ErrInvalidEntry).
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidEntry
}

// SortNewestFirst orders entries by PlayedAt descending, keeping the relative
// order of equal timestamps. DedupeAndLimit never calls it; it is for callers
// whose source does not already deliver the newest play first.
func SortNewestFirst[T any](entries []Entry[T]) {
	slices.SortStableFunc(entries, func(a, b Entry[T]) int {
		return b.PlayedAt.Compare(a.PlayedAt)
	})
}
