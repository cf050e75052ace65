package features

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// PreparedImage is an image resized for feature extraction, with the scale
// correction needed to map extractor coordinates back to the original.
type PreparedImage struct {
	JPEG  []byte
	Full  image.Point // original width, height
	Scale float32     // original size / resized size
}

// PrepareImage decodes image data and, when its longer side exceeds maxSize,
// downscales it with aspect ratio preserved and re-encodes as JPEG. The
// returned scale maps coordinates in the resized image back to the original.
func PrepareImage(data []byte, maxSize int) (*PreparedImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return &PreparedImage{JPEG: data, Full: image.Pt(width, height), Scale: 1}, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	return &PreparedImage{
		JPEG:  buf.Bytes(),
		Full:  image.Pt(width, height),
		Scale: float32(width) / float32(newWidth),
	}, nil
}
