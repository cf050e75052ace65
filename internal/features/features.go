// Package features holds per-image coarse feature grids: loading and saving
// them, fetching them from an extractor service and assembling image pairs
// into the batched form the matcher consumes.
package features

import (
	"fmt"

	"github.com/chewxy/math32"

	"gridmatch/internal/coarsematch"
)

// ImageFeatures is one image's coarse feature grid together with the
// resolution metadata needed to map grid cells back to pixels. Data is laid
// out row-major as [cell][channel] over the flattened Coarse grid.
type ImageFeatures struct {
	ID       string
	Full     coarsematch.Size // original image resolution
	Coarse   coarsematch.Size // feature grid resolution
	Channels int
	Data     []float32

	// Scale corrects for non-uniform resizing before extraction, 1 when the
	// image was fed to the extractor at its original aspect.
	Scale float32
}

// Validate checks internal consistency. Call after loading from disk or a
// remote extractor.
func (f *ImageFeatures) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("image features have no id")
	}
	if f.Coarse.H <= 0 || f.Coarse.W <= 0 {
		return fmt.Errorf("%s: invalid coarse grid %dx%d", f.ID, f.Coarse.H, f.Coarse.W)
	}
	if f.Full.H <= 0 || f.Full.W <= 0 {
		return fmt.Errorf("%s: invalid full resolution %dx%d", f.ID, f.Full.H, f.Full.W)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%s: invalid channel count %d", f.ID, f.Channels)
	}
	if want := f.Coarse.Cells() * f.Channels; len(f.Data) != want {
		return fmt.Errorf("%s: feature data has %d values, want %d", f.ID, len(f.Data), want)
	}
	if f.Full.H%f.Coarse.H != 0 {
		return fmt.Errorf("%s: full height %d is not a multiple of coarse height %d", f.ID, f.Full.H, f.Coarse.H)
	}
	if f.Scale <= 0 {
		return fmt.Errorf("%s: invalid scale correction %v", f.ID, f.Scale)
	}
	return nil
}

// Ratio returns the coarse-to-full resolution ratio.
func (f *ImageFeatures) Ratio() int {
	return f.Full.H / f.Coarse.H
}

// Descriptor returns a single L2-normalized vector summarizing the whole
// grid (the per-channel mean over all cells). Used as the retrieval
// embedding for candidate pair search; it is far too coarse for matching
// itself.
func (f *ImageFeatures) Descriptor() []float32 {
	desc := make([]float32, f.Channels)
	cells := f.Coarse.Cells()
	for cell := 0; cell < cells; cell++ {
		row := f.Data[cell*f.Channels : (cell+1)*f.Channels]
		for ch, v := range row {
			desc[ch] += v
		}
	}
	var norm float32
	for ch := range desc {
		desc[ch] /= float32(cells)
		norm += desc[ch] * desc[ch]
	}
	if norm > 0 {
		inv := 1 / math32.Sqrt(norm)
		for ch := range desc {
			desc[ch] *= inv
		}
	}
	return desc
}
