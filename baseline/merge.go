package baseline

import (
	"github.com/hazyhaar/vigie/differ"
	"github.com/hazyhaar/vigie/manifest"
)

// Merge applies approved report entries onto a clone of base and returns the
// new baseline. base itself is never mutated.
//
// A nil set approves everything, and is by construction equivalent to
// passing differ.ApproveAll(rep): both walk the same bucket entries. An
// empty (non-nil) set applies nothing and returns an identical clone.
//
// Rules, per bucket:
//   - diff:    the entry's actual image location overwrites the baseline
//     value at (page, browser); a page receiving at least one approved diff
//     also takes the run's publicUrl, otherwise it keeps the baseline's.
//   - added:   the actual location is written at (page, browser); a page new
//     to the baseline is created with the run's publicUrl.
//   - removed: the (page, browser) key is deleted; a page whose screenshot
//     map empties is deleted entirely, so no page ever persists with an
//     empty screenshot set.
func Merge(base manifest.Manifest, rep *differ.Report, set *differ.ApprovalSet) (manifest.Manifest, error) {
	out := base.Clone()
	if out == nil {
		out = manifest.Manifest{}
	}
	actual := manifest.FromTestCases(rep.TestCases)

	diffs, err := selectApproved("diff", rep.Diffs, approvedKeys(set, func(s *differ.ApprovalSet) differ.KeySet { return s.Diffs }))
	if err != nil {
		return nil, err
	}
	added, err := selectApproved("added", rep.Added, approvedKeys(set, func(s *differ.ApprovalSet) differ.KeySet { return s.Added }))
	if err != nil {
		return nil, err
	}
	removed, err := selectApproved("removed", rep.Removed, approvedKeys(set, func(s *differ.ApprovalSet) differ.KeySet { return s.Removed }))
	if err != nil {
		return nil, err
	}

	for _, r := range diffs {
		entry, ok := out[r.Page]
		if !ok || entry.Screenshots[r.Browser] == "" {
			return nil, &ErrMissingEntry{Bucket: "diff", Page: r.Page, Browser: r.Browser}
		}
		entry.Screenshots[r.Browser] = r.Actual
		// Accepting a diff also accepts the page's re-rendered location.
		if run, ok := actual[r.Page]; ok {
			entry.PublicURL = run.PublicURL
		}
		out[r.Page] = entry
	}

	for _, r := range added {
		run, ok := actual[r.Page]
		if !ok {
			return nil, &ErrMissingEntry{Bucket: "added", Page: r.Page, Browser: r.Browser}
		}
		entry, ok := out[r.Page]
		if !ok {
			entry = manifest.PageEntry{PublicURL: run.PublicURL, Screenshots: map[string]string{}}
		}
		if entry.Screenshots == nil {
			entry.Screenshots = map[string]string{}
		}
		entry.Screenshots[r.Browser] = r.Actual
		out[r.Page] = entry
	}

	for _, r := range removed {
		entry, ok := out[r.Page]
		if !ok {
			return nil, &ErrMissingEntry{Bucket: "removed", Page: r.Page, Browser: r.Browser}
		}
		if _, ok := entry.Screenshots[r.Browser]; !ok {
			return nil, &ErrMissingEntry{Bucket: "removed", Page: r.Page, Browser: r.Browser}
		}
		delete(entry.Screenshots, r.Browser)
		if len(entry.Screenshots) == 0 {
			delete(out, r.Page)
		}
	}

	return out, nil
}

// approvedKeys extracts one bucket's key set from a possibly-nil approval
// set. nil means blanket approval.
func approvedKeys(set *differ.ApprovalSet, pick func(*differ.ApprovalSet) differ.KeySet) differ.KeySet {
	if set == nil {
		return nil
	}
	keys := pick(set)
	if keys == nil {
		keys = differ.KeySet{}
	}
	return keys
}

// selectApproved filters a report bucket down to the approved entries. A nil
// key set selects everything. Every approved key must exist in the bucket;
// an unknown key is a caller bug and fails the merge.
func selectApproved(bucket string, results []*differ.Result, keys differ.KeySet) ([]*differ.Result, error) {
	if keys == nil {
		return results, nil
	}
	byKey := make(map[manifest.Key]*differ.Result, len(results))
	for _, r := range results {
		byKey[r.Key()] = r
	}
	selected := make([]*differ.Result, 0, len(keys))
	// Walk the bucket, not the set, to keep the stable (page, browser) order.
	for _, r := range results {
		if keys.Has(r.Key()) {
			selected = append(selected, r)
		}
	}
	for k := range keys {
		if _, ok := byKey[k]; !ok {
			return nil, &ErrUnknownApproval{Bucket: bucket, Page: k.Page, Browser: k.Browser}
		}
	}
	return selected, nil
}
