package ai

import (
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// ResizeImage resizes an image to fit within maxSize (width or height) while keeping
// aspect ratio and re-encodes it as JPEG.
func ResizeImage(data []byte, maxSize int) ([]byte, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	out, err := imaging.FitJPEG(img, maxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return out, nil
}
