package history

// DedupeAndLimit keeps the first entry seen for each track and returns at most
// limit of them, in the order they were first encountered.
//
// Entries must be ordered newest first. The first occurrence wins regardless of
// PlayedAt, so out-of-order input yields the oldest-seen play rather than the
// most recent one.
//
// The whole input is validated before anything is returned: an entry without a
// track ID fails the call with a *ValidationError naming its index.
func DedupeAndLimit[T any](entries []Entry[T], limit int) ([]Entry[T], error) {
	if limit < 0 {
		return nil, &ValidationError{Index: -1, Field: "limit", Reason: "must not be negative"}
	}

	for i := range entries {
		if entries[i].TrackID == "" {
			return nil, &ValidationError{Index: i, Field: "trackId", Reason: "is missing"}
		}
	}

	seen := make(map[string]struct{}, min(len(entries), limit))
	unique := make([]Entry[T], 0, min(len(entries), limit))

	for i := range entries {
		if len(unique) == limit {
			break
		}
		if _, ok := seen[entries[i].TrackID]; ok {
			continue
		}
		seen[entries[i].TrackID] = struct{}{}
		unique = append(unique, entries[i])
	}

	return unique, nil
}
