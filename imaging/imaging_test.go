package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// solid builds a w×h image filled with c, with optional pixel overrides.
func solid(t *testing.T, w, h int, c color.RGBA, overrides map[image.Point]color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	for p, oc := range overrides {
		img.SetRGBA(p.X, p.Y, oc)
	}
	return encodePNG(t, img)
}

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

func TestCompareIdentical(t *testing.T) {
	a := solid(t, 4, 4, white, nil)
	out, err := Compare(a, solid(t, 4, 4, white, nil), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.MismatchFraction != 0 {
		t.Errorf("mismatch = %v, want 0", out.MismatchFraction)
	}
	if out.DiffImage != nil {
		t.Error("identical images produced a diff image")
	}
}

func TestCompareCountsPixels(t *testing.T) {
	a := solid(t, 2, 2, white, map[image.Point]color.RGBA{{X: 1, Y: 1}: black})
	e := solid(t, 2, 2, white, nil)

	out, err := Compare(a, e, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.MismatchFraction != 0.25 {
		t.Errorf("mismatch = %v, want 0.25", out.MismatchFraction)
	}
	if len(out.DiffImage) == 0 {
		t.Fatal("missing diff image")
	}

	diff, err := decode(out.DiffImage)
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := diff.At(1, 1).RGBA()
	if r>>8 != 0xff || g != 0 || b != 0 {
		t.Errorf("mismatched pixel not highlighted red: %v", diff.At(1, 1))
	}
}

func TestCompareToleranceAbsorbsJitter(t *testing.T) {
	a := solid(t, 2, 2, color.RGBA{250, 250, 250, 255}, nil)
	e := solid(t, 2, 2, white, nil)

	strict, err := Compare(a, e, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if strict.MismatchFraction != 1 {
		t.Errorf("strict mismatch = %v, want 1", strict.MismatchFraction)
	}

	loose, err := Compare(a, e, Options{Tolerance: 8})
	if err != nil {
		t.Fatal(err)
	}
	if loose.MismatchFraction != 0 {
		t.Errorf("tolerant mismatch = %v, want 0", loose.MismatchFraction)
	}
}

func TestCompareSizeMismatch(t *testing.T) {
	a := solid(t, 4, 2, white, nil)
	e := solid(t, 2, 2, white, nil)

	out, err := Compare(a, e, Options{})
	if err != nil {
		t.Fatal(err)
	}
	// Right half of the union canvas is covered by actual only.
	if out.MismatchFraction != 0.5 {
		t.Errorf("mismatch = %v, want 0.5", out.MismatchFraction)
	}
	if len(out.DiffImage) == 0 {
		t.Error("missing diff image for size mismatch")
	}
}

func TestCompareRejectsGarbage(t *testing.T) {
	good := solid(t, 1, 1, white, nil)
	if _, err := Compare([]byte("nope"), good, Options{}); err == nil {
		t.Error("bad actual accepted")
	}
	if _, err := Compare(good, []byte("nope"), Options{}); err == nil {
		t.Error("bad expected accepted")
	}
}

func TestCropToContent(t *testing.T) {
	overrides := map[image.Point]color.RGBA{}
	for y := 3; y < 5; y++ {
		for x := 2; x < 6; x++ {
			overrides[image.Point{X: x, Y: y}] = black
		}
	}
	data := solid(t, 10, 10, white, overrides)

	cropped, err := ContentCropper{}.Crop(data)
	if err != nil {
		t.Fatal(err)
	}
	img, err := decode(cropped)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 2 {
		t.Errorf("cropped bounds = %v, want 4x2", img.Bounds())
	}
}

func TestCropAllBackgroundUnchanged(t *testing.T) {
	data := solid(t, 5, 5, white, nil)
	cropped, err := CropToContent(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(cropped, data) {
		t.Error("uniform image should be returned unchanged")
	}
}

func TestComparatorFetchesBothSides(t *testing.T) {
	images := map[string][]byte{
		"a": solid(t, 2, 2, white, map[image.Point]color.RGBA{{}: black}),
		"e": solid(t, 2, 2, white, nil),
	}
	var fetched []string
	cmp := NewComparator(func(_ context.Context, loc string) ([]byte, error) {
		fetched = append(fetched, loc)
		return images[loc], nil
	}, Options{})

	out, err := cmp.Compare(context.Background(), "a", "e")
	if err != nil {
		t.Fatal(err)
	}
	if out.MismatchFraction != 0.25 {
		t.Errorf("mismatch = %v, want 0.25", out.MismatchFraction)
	}
	if len(fetched) != 2 || fetched[0] != "a" || fetched[1] != "e" {
		t.Errorf("fetched = %v", fetched)
	}
}
