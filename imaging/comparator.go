package imaging

import (
	"context"

	"github.com/hazyhaar/vigie/differ"
)

// FetchFunc downloads the bytes behind an image location.
type FetchFunc func(ctx context.Context, location string) ([]byte, error)

// Comparator adapts Compare to the differ's by-location interface, fetching
// both images through the injected FetchFunc.
type Comparator struct {
	fetch FetchFunc
	opts  Options
}

// NewComparator creates the default differ comparator.
func NewComparator(fetch FetchFunc, opts Options) *Comparator {
	return &Comparator{fetch: fetch, opts: opts}
}

// Compare implements differ.Comparator.
func (c *Comparator) Compare(ctx context.Context, actualLocation, expectedLocation string) (differ.Outcome, error) {
	actual, err := c.fetch(ctx, actualLocation)
	if err != nil {
		return differ.Outcome{}, err
	}
	expected, err := c.fetch(ctx, expectedLocation)
	if err != nil {
		return differ.Outcome{}, err
	}
	out, err := Compare(actual, expected, c.opts)
	if err != nil {
		return differ.Outcome{}, err
	}
	return differ.Outcome{MismatchFraction: out.MismatchFraction, DiffImage: out.DiffImage}, nil
}
