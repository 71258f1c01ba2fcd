// Package imaging provides the default image collaborators for the
// workflow: a plain pixel-mismatch comparator producing a highlighted diff
// image, and a content-bounds cropper that trims uniform margins from raw
// screenshots. Both operate on encoded PNG bytes so they can slot directly
// behind the capture and differ interfaces.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// Options tunes the pixel comparison.
type Options struct {
	// Tolerance is the per-channel difference (0-255) still counted as
	// equal, absorbing lossy-encode jitter. Default 0: exact match.
	Tolerance uint8
}

// Outcome is the comparison result: the fraction of mismatched pixels over
// the union canvas, and a rendered diff when any pixel differs.
type Outcome struct {
	MismatchFraction float64
	DiffImage        []byte
}

// Compare decodes two PNG screenshots and counts differing pixels over the
// union of both canvases; pixels covered by only one image always count as
// different. When anything differs, the returned diff image shows the
// expected screenshot dimmed with mismatched pixels painted red.
func Compare(actualPNG, expectedPNG []byte, opts Options) (Outcome, error) {
	actual, err := decode(actualPNG)
	if err != nil {
		return Outcome{}, fmt.Errorf("imaging: decode actual: %w", err)
	}
	expected, err := decode(expectedPNG)
	if err != nil {
		return Outcome{}, fmt.Errorf("imaging: decode expected: %w", err)
	}

	ab, eb := actual.Bounds(), expected.Bounds()
	w := max(ab.Dx(), eb.Dx())
	h := max(ab.Dy(), eb.Dy())
	if w == 0 || h == 0 {
		return Outcome{}, nil
	}

	diff := image.NewRGBA(image.Rect(0, 0, w, h))
	mismatched := 0

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inA := x < ab.Dx() && y < ab.Dy()
			inE := x < eb.Dx() && y < eb.Dy()

			if inA && inE {
				ac := actual.At(ab.Min.X+x, ab.Min.Y+y)
				ec := expected.At(eb.Min.X+x, eb.Min.Y+y)
				if within(ac, ec, opts.Tolerance) {
					diff.Set(x, y, dim(ec))
					continue
				}
			}
			mismatched++
			diff.Set(x, y, color.RGBA{R: 0xff, A: 0xff})
		}
	}

	out := Outcome{MismatchFraction: float64(mismatched) / float64(w*h)}
	if mismatched == 0 {
		return out, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, diff); err != nil {
		return Outcome{}, fmt.Errorf("imaging: encode diff: %w", err)
	}
	out.DiffImage = buf.Bytes()
	return out, nil
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// within reports whether two colors match within a per-channel tolerance.
func within(a, b color.Color, tol uint8) bool {
	ar, ag, ab_, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	t := uint32(tol) << 8 // RGBA() returns 16-bit channels
	return delta(ar, br) <= t && delta(ag, bg) <= t && delta(ab_, bb) <= t && delta(aa, ba) <= t
}

func delta(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// dim renders a matching pixel as a washed-out version of the expected one,
// keeping page structure visible behind the red mismatch highlights.
func dim(c color.Color) color.Color {
	r, g, b, _ := c.RGBA()
	gray := uint8((r + g + b) / 3 >> 8)
	faded := gray/2 + 128
	return color.RGBA{R: faded, G: faded, B: faded, A: 0xff}
}
