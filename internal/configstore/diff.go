package configstore

import "fmt"

// ChangeKind classifies a diff entry.
type ChangeKind int

const (
	// Changed means the key exists in both snapshots with different values.
	Changed ChangeKind = iota + 1
	// Removed means the key only exists in the previous snapshot.
	Removed
	// Added means the key only exists in the new snapshot.
	Added
)

func (k ChangeKind) String() string {
	switch k {
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	case Added:
		return "added"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change describes how a single key differs between two snapshots.
type Change struct {
	Key  string
	Kind ChangeKind
	Old  string
	New  string
}

// Value returns the post-reload value of the key. The second result is false
// when the key was removed, so subscribers can tell a removal apart from a
// change to the empty string.
func (c Change) Value() (string, bool) {
	if c.Kind == Removed {
		return "", false
	}
	return c.New, true
}

// Diff compares two snapshots. Changed entries come first, then removed, then
// added; each group is ordered by key. Keys with identical values are omitted.
func Diff(prev, next *Snapshot) []Change {
	var changed, removed, added []Change

	for _, key := range prev.Keys() {
		oldValue, _ := prev.Get(key)
		newValue, ok := next.Get(key)
		switch {
		case !ok:
			removed = append(removed, Change{Key: key, Kind: Removed, Old: oldValue})
		case oldValue != newValue:
			changed = append(changed, Change{Key: key, Kind: Changed, Old: oldValue, New: newValue})
		}
	}

	for _, key := range next.Keys() {
		if _, ok := prev.Get(key); ok {
			continue
		}
		newValue, _ := next.Get(key)
		added = append(added, Change{Key: key, Kind: Added, New: newValue})
	}

	out := make([]Change, 0, len(changed)+len(removed)+len(added))
	out = append(out, changed...)
	out = append(out, removed...)
	return append(out, added...)
}
