package baseline

import "fmt"

// ErrSourceConfig is returned when the baseline source does not resolve to
// exactly one of {URL, file path, git revision}. The offending inputs are
// echoed back so the operator can see what was actually configured.
type ErrSourceConfig struct {
	URL          string
	Path         string
	Revision     string
	RevisionPath string
}

func (e *ErrSourceConfig) Error() string {
	return fmt.Sprintf(
		"baseline: source must set exactly one of url, path, or revision+path (got url=%q path=%q revision=%q revision_path=%q)",
		e.URL, e.Path, e.Revision, e.RevisionPath)
}

// ErrUnknownApproval is returned when an approval filter names a
// (page, browser) pair that is not in the report bucket it targets.
// This indicates a caller bug and is never silently ignored.
type ErrUnknownApproval struct {
	Bucket  string
	Page    string
	Browser string
}

func (e *ErrUnknownApproval) Error() string {
	return fmt.Sprintf("baseline: approval for %s/%s not found in %s bucket", e.Page, e.Browser, e.Bucket)
}

// ErrMissingEntry is returned when a report entry being merged references a
// page or browser absent from the manifest it should apply to.
type ErrMissingEntry struct {
	Bucket  string
	Page    string
	Browser string
}

func (e *ErrMissingEntry) Error() string {
	return fmt.Sprintf("baseline: %s entry %s/%s missing from manifest during merge", e.Bucket, e.Page, e.Browser)
}
