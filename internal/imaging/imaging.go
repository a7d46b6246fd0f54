// Package imaging holds the pixel operations the pipeline needs around its model
// servers: bounding boxes, crops, resizes and JPEG transport encoding.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is used for every image sent to a model server.
const JPEGQuality = 85

var (
	// ErrEmptyCrop is returned when a box has no overlap with the image.
	ErrEmptyCrop = errors.New("crop is empty")

	// ErrInvalidBox is returned for boxes that are not four finite coordinates.
	ErrInvalidBox = errors.New("invalid bounding box")
)

// Box is a pixel bounding box with exclusive max corner.
type Box struct {
	X1, Y1, X2, Y2 int
}

// BoxFromCoords converts [x1, y1, x2, y2] floats as returned by detectors.
func BoxFromCoords(coords []float64) (Box, error) {
	if len(coords) != 4 {
		return Box{}, fmt.Errorf("%w: expected 4 coordinates, got %d", ErrInvalidBox, len(coords))
	}
	for _, c := range coords {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Box{}, fmt.Errorf("%w: non-finite coordinate", ErrInvalidBox)
		}
	}
	return Box{
		X1: int(math.Floor(coords[0])),
		Y1: int(math.Floor(coords[1])),
		X2: int(math.Ceil(coords[2])),
		Y2: int(math.Ceil(coords[3])),
	}, nil
}

// Rect returns the box as an image.Rectangle. Unlike image.Rect the corners are
// not swapped, so an inverted box stays empty.
func (b Box) Rect() image.Rectangle {
	return image.Rectangle{Min: image.Pt(b.X1, b.Y1), Max: image.Pt(b.X2, b.Y2)}
}

// Empty reports whether the box has no area, including inverted boxes.
func (b Box) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Coords returns the box as [x1, y1, x2, y2].
func (b Box) Coords() [4]int {
	return [4]int{b.X1, b.Y1, b.X2, b.Y2}
}

// Inside reports whether the box lies fully within bounds.
func (b Box) Inside(bounds image.Rectangle) bool {
	return !b.Empty() && b.Rect().In(bounds)
}

// Crop copies the part of img covered by box, clipped to the image bounds.
func Crop(img image.Image, box Box) (*image.RGBA, error) {
	if box.Empty() {
		return nil, ErrEmptyCrop
	}
	r := box.Rect().Intersect(img.Bounds())
	if r.Empty() {
		return nil, ErrEmptyCrop
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out, nil
}

// Resize scales img to exactly width x height.
func Resize(img image.Image, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Over, nil)
	return out
}

// CropSquare crops box from img and scales it to size x size.
func CropSquare(img image.Image, box Box, size int) (*image.RGBA, error) {
	crop, err := Crop(img, box)
	if err != nil {
		return nil, err
	}
	return Resize(crop, size, size), nil
}

// Decode decodes JPEG, PNG, BMP or WebP data.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes img for upload.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// FitJPEG re-encodes img as JPEG, scaling it down to fit within maxSize on the
// longer side while keeping the aspect ratio.
func FitJPEG(img image.Image, maxSize int) ([]byte, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return EncodeJPEG(img)
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}
	return EncodeJPEG(Resize(img, max(newWidth, 1), max(newHeight, 1)))
}
