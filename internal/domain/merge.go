package domain

// OutcomeKind classifies what a merge did to the local collection.
type OutcomeKind int

const (
	// OutcomeNoChange means the remote batch contributed nothing.
	OutcomeNoChange OutcomeKind = iota

	// OutcomeAdded means the remote batch only contributed new records.
	OutcomeAdded

	// OutcomeReplacedConflict means at least one local record was overwritten
	// by a remote record with the same key. It dominates OutcomeAdded.
	OutcomeReplacedConflict
)

// String returns the wire name of the outcome.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAdded:
		return "added"
	case OutcomeReplacedConflict:
		return "replaced_conflict"
	default:
		return "no_change"
	}
}

// MergeOutcome summarises a merge. It is derived and never persisted.
type MergeOutcome struct {
	Kind     OutcomeKind `json:"kind"`
	Added    int         `json:"added"`
	Replaced int         `json:"replaced"`
}

// Message returns the status line shown to the user for this outcome.
func (o MergeOutcome) Message() string {
	switch o.Kind {
	case OutcomeReplacedConflict:
		return "Conflicts resolved. Server data is now up-to-date."
	case OutcomeAdded:
		return "New quotes have been fetched from the server."
	default:
		return "Quotes are up to date."
	}
}

func classify(added, replaced int) MergeOutcome {
	out := MergeOutcome{Added: added, Replaced: replaced}

	switch {
	case replaced > 0:
		out.Kind = OutcomeReplacedConflict
	case added > 0:
		out.Kind = OutcomeAdded
	default:
		out.Kind = OutcomeNoChange
	}

	return out
}

// Merge reconciles a remote batch into the local collection. The server wins.
//
// A remote record whose key matches a local record overwrites it in place and
// counts as replaced. A remote record with an unknown key is appended after
// every preserved local record, in remote order, and counts as added. A remote
// record whose key was already appended earlier in the same batch overwrites
// that entry and counts as replaced too, so every index hit is a replacement.
//
// Merge never modifies local or remote and the result does not share a
// backing array with either.
func Merge(local, remote []Quote) ([]Quote, MergeOutcome) {
	merged := make([]Quote, len(local), len(local)+len(remote))
	copy(merged, local)

	index := make(map[string]int, len(local)+len(remote))
	for i, q := range local {
		// First occurrence owns the key when the local collection already holds duplicates.
		if _, ok := index[q.Key()]; !ok {
			index[q.Key()] = i
		}
	}

	added, replaced := 0, 0

	for _, r := range remote {
		key := r.Key()

		pos, ok := index[key]
		if !ok {
			index[key] = len(merged)
			merged = append(merged, r)
			added++

			continue
		}

		merged[pos] = r
		replaced++
	}

	return merged, classify(added, replaced)
}

// ReplaceAll discards local and returns a copy of remote verbatim.
// Nothing is reported as replaced since no record is reconciled.
func ReplaceAll(remote []Quote) ([]Quote, MergeOutcome) {
	out := make([]Quote, len(remote))
	copy(out, remote)

	return out, classify(len(remote), 0)
}
