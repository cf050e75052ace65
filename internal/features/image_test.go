package features

import (
	"bytes"
	"image"
	"image/jpeg"
	"math"
	"testing"
)

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestPrepareImage_SmallImagePassesThrough(t *testing.T) {
	data := encodeTestJPEG(t, 100, 60)

	p, err := PrepareImage(data, 640)
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	if p.Scale != 1 {
		t.Errorf("Scale = %v, want 1 for image under the limit", p.Scale)
	}
	if p.Full.X != 100 || p.Full.Y != 60 {
		t.Errorf("Full = %v, want (100, 60)", p.Full)
	}
	if !bytes.Equal(p.JPEG, data) {
		t.Errorf("small image should be returned unmodified")
	}
}

func TestPrepareImage_Downscales(t *testing.T) {
	data := encodeTestJPEG(t, 1280, 960)

	p, err := PrepareImage(data, 640)
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	if math.Abs(float64(p.Scale)-2) > 1e-6 {
		t.Errorf("Scale = %v, want 2", p.Scale)
	}
	if p.Full.X != 1280 || p.Full.Y != 960 {
		t.Errorf("Full = %v, want the original (1280, 960)", p.Full)
	}

	img, _, err := image.Decode(bytes.NewReader(p.JPEG))
	if err != nil {
		t.Fatalf("decode resized image: %v", err)
	}
	if got := img.Bounds().Dx(); got != 640 {
		t.Errorf("resized width = %d, want 640", got)
	}
	if got := img.Bounds().Dy(); got != 480 {
		t.Errorf("resized height = %d, want 480", got)
	}
}

func TestPrepareImage_RejectsGarbage(t *testing.T) {
	if _, err := PrepareImage([]byte("not an image"), 640); err == nil {
		t.Fatalf("expected decode error")
	}
}
