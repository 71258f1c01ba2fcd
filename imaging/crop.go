package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
)

// ContentCropper implements the capture package's Cropper collaborator by
// trimming uniform margins.
type ContentCropper struct {
	// Tolerance is the per-channel difference from the corner color still
	// treated as background.
	Tolerance uint8
}

// Crop trims the screenshot to its content bounds.
func (c ContentCropper) Crop(img []byte) ([]byte, error) {
	return CropToContent(img, c.Tolerance)
}

// CropToContent trims the margins whose pixels match the top-left corner
// color (the page background) and re-encodes the remainder. An image that is
// entirely background is returned unchanged.
func CropToContent(data []byte, tolerance uint8) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode for crop: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return data, nil
	}

	background := img.At(b.Min.X, b.Min.Y)
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if within(img.At(x, y), background, tolerance) {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < minX {
		// Nothing but background.
		return data, nil
	}

	content := image.Rect(minX, minY, maxX+1, maxY+1)
	if content == b {
		return data, nil
	}

	cropped := image.NewRGBA(image.Rect(0, 0, content.Dx(), content.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, content.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, fmt.Errorf("imaging: encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
