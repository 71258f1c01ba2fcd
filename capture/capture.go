// Package capture drives the upload → capture → screenshot-upload pipeline
// that produces the run manifest consumed by the differ. It owns no
// transport itself: storage, the capture service, image cropping, and image
// download are injected collaborators.
//
// Concurrency model: every batch fans out one goroutine per item, joins on
// the full set, and only then folds results into shared structures
// single-threadedly. Completion order is irrelevant; the differ re-sorts
// everything before review. The first error (in launch order) fails the
// batch; siblings already in flight are not cancelled or rolled back, which
// is a known, accepted limitation.
package capture

import (
	"context"
	"sync"
)

// File is a storage upload descriptor. Position and Total exist for progress
// reporting only and carry no ordering semantics.
type File struct {
	Dest     string
	Body     []byte
	Position int
	Total    int
}

// Storage uploads files and returns their public location.
type Storage interface {
	Upload(ctx context.Context, f File) (string, error)
}

// BrowserShot is one per-browser result from the capture service. OS names
// may carry a trailing "-E<digits>" version suffix; BrowserKey strips it.
type BrowserShot struct {
	OS            string
	Browser       string
	ImageLocation string
}

// Service captures a URL across the configured browser matrix.
type Service interface {
	CaptureURL(ctx context.Context, url string) ([]BrowserShot, error)
}

// Cropper trims a screenshot to its content bounds.
type Cropper interface {
	Crop(image []byte) ([]byte, error)
}

// Fetcher downloads raw bytes from an image location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// joinAll runs fn for every index concurrently, waits for the whole set,
// and returns the results, or the first error in launch order.
func joinAll[T any](n int, fn func(i int) (T, error)) ([]T, error) {
	results := make([]T, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = fn(i)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
