package differ

import "github.com/hazyhaar/vigie/manifest"

// KeySet is a set of (page, browser) pairs.
type KeySet map[manifest.Key]struct{}

// NewKeySet builds a set from keys.
func NewKeySet(keys ...manifest.Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s KeySet) Has(k manifest.Key) bool {
	_, ok := s[k]
	return ok
}

// ApprovalSet names the report entries a reviewer accepted, scoped per
// classification bucket. A nil *ApprovalSet means blanket approval of the
// whole report.
type ApprovalSet struct {
	Diffs   KeySet
	Added   KeySet
	Removed KeySet
}

// ApproveAll returns the approval set covering every diff, added, and
// removed entry of the report. Merging with it is equivalent to merging
// with a nil (blanket) approval.
func ApproveAll(rep *Report) *ApprovalSet {
	set := &ApprovalSet{
		Diffs:   make(KeySet, len(rep.Diffs)),
		Added:   make(KeySet, len(rep.Added)),
		Removed: make(KeySet, len(rep.Removed)),
	}
	for _, r := range rep.Diffs {
		set.Diffs[r.Key()] = struct{}{}
	}
	for _, r := range rep.Added {
		set.Added[r.Key()] = struct{}{}
	}
	for _, r := range rep.Removed {
		set.Removed[r.Key()] = struct{}{}
	}
	return set
}
