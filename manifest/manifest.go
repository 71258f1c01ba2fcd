// Package manifest defines the snapshot manifest data model shared by the
// capture, diff, and baseline layers: which pages were rendered, and where
// each per-browser screenshot lives.
//
// A manifest is the unit of persistence for the golden baseline, so its JSON
// form is canonical: object keys sorted, two-space indent, trailing newline.
// Re-encoding an unchanged manifest is byte-identical, which keeps the
// baseline file diffable under version control.
package manifest

import (
	"encoding/json"
	"fmt"
)

// PageEntry records where a rendered test page and its screenshots live.
type PageEntry struct {
	// PublicURL is the uploaded location of the rendered page itself.
	PublicURL string `json:"publicUrl"`

	// Screenshots maps a browser key (e.g. "win10_chrome") to the uploaded
	// location of that browser's screenshot.
	Screenshots map[string]string `json:"screenshots"`
}

// Manifest maps a page identifier (its relative path) to its entry.
// Insertion order is irrelevant; equality is key-by-key.
type Manifest map[string]PageEntry

// Key identifies a single screenshot within a manifest.
type Key struct {
	Page    string `json:"page"`
	Browser string `json:"browser"`
}

// Less orders keys by (Page, Browser) using plain byte-wise comparison,
// stable across locales.
func (k Key) Less(other Key) bool {
	if k.Page != other.Page {
		return k.Page < other.Page
	}
	return k.Browser < other.Browser
}

// Clone returns a structural deep copy. Only the defined fields are copied;
// this replaces the old serialize/parse round-trip trick for defensive
// copying.
func (m Manifest) Clone() Manifest {
	if m == nil {
		return nil
	}
	out := make(Manifest, len(m))
	for page, entry := range m {
		shots := make(map[string]string, len(entry.Screenshots))
		for browser, loc := range entry.Screenshots {
			shots[browser] = loc
		}
		out[page] = PageEntry{PublicURL: entry.PublicURL, Screenshots: shots}
	}
	return out
}

// Equal reports key-by-key equality of two manifests.
func (m Manifest) Equal(other Manifest) bool {
	if len(m) != len(other) {
		return false
	}
	for page, entry := range m {
		oe, ok := other[page]
		if !ok || oe.PublicURL != entry.PublicURL || len(oe.Screenshots) != len(entry.Screenshots) {
			return false
		}
		for browser, loc := range entry.Screenshots {
			if oe.Screenshots[browser] != loc {
				return false
			}
		}
	}
	return true
}

// Encode serializes the manifest in canonical form: sorted keys (Go's JSON
// encoder sorts map keys), two-space indent, trailing newline.
func Encode(m Manifest) ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return append(b, '\n'), nil
}

// Decode parses a manifest from its JSON form.
func Decode(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return m, nil
}
