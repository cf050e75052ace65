package features

import (
	"fmt"

	"gridmatch/internal/coarsematch"
)

// Pair is one image pair queued for matching; A maps to image 0, B to
// image 1.
type Pair struct {
	A *ImageFeatures
	B *ImageFeatures
}

// Batch is a set of pairs assembled into the matcher's input form. When the
// pairs carry differing grid sizes, every grid is padded to the batch maximum
// and the masks mark which cells hold real data; for uniform batches the
// masks are nil.
type Batch struct {
	Pairs []Pair

	Feat0 *coarsematch.FeatureBatch
	Feat1 *coarsematch.FeatureBatch
	Mask0 *coarsematch.CellMask
	Mask1 *coarsematch.CellMask
	Geom  coarsematch.Geometry
}

// BuildBatch validates and assembles pairs for matching. All images must
// share one channel width and one coarse-to-full ratio; grid sizes may vary.
func BuildBatch(pairs []Pair, training bool) (*Batch, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pairs to assemble")
	}

	channels := pairs[0].A.Channels
	ratio := pairs[0].A.Ratio()
	for _, p := range pairs {
		for _, f := range []*ImageFeatures{p.A, p.B} {
			if err := f.Validate(); err != nil {
				return nil, err
			}
			if f.Channels != channels {
				return nil, fmt.Errorf("%s: channel width %d differs from batch width %d", f.ID, f.Channels, channels)
			}
			if f.Ratio() != ratio {
				return nil, fmt.Errorf("%s: coarse-to-full ratio %d differs from batch ratio %d", f.ID, f.Ratio(), ratio)
			}
		}
	}

	grid0, uniform0 := paddedGrid(pairs, func(p Pair) *ImageFeatures { return p.A })
	grid1, uniform1 := paddedGrid(pairs, func(p Pair) *ImageFeatures { return p.B })
	uniform := uniform0 && uniform1

	n := len(pairs)
	b := &Batch{
		Pairs: pairs,
		Feat0: coarsematch.NewFeatureBatch(n, grid0.Cells(), channels),
		Feat1: coarsematch.NewFeatureBatch(n, grid1.Cells(), channels),
		Geom: coarsematch.Geometry{
			Full0:    coarsematch.Size{H: grid0.H * ratio, W: grid0.W * ratio},
			Full1:    coarsematch.Size{H: grid1.H * ratio, W: grid1.W * ratio},
			Coarse0:  grid0,
			Coarse1:  grid1,
			Training: training,
		},
	}
	if !uniform {
		b.Mask0 = coarsematch.NewCellMask(n, grid0.Cells())
		b.Mask1 = coarsematch.NewCellMask(n, grid1.Cells())
	}

	for i, p := range pairs {
		placeSample(b.Feat0, b.Mask0, i, p.A, grid0)
		placeSample(b.Feat1, b.Mask1, i, p.B, grid1)
	}

	b.Geom.Scale0 = scaleCorrections(pairs, func(p Pair) *ImageFeatures { return p.A })
	b.Geom.Scale1 = scaleCorrections(pairs, func(p Pair) *ImageFeatures { return p.B })
	return b, nil
}

// paddedGrid returns the smallest grid covering every sample on one side and
// whether all samples already share it.
func paddedGrid(pairs []Pair, side func(Pair) *ImageFeatures) (coarsematch.Size, bool) {
	grid := side(pairs[0]).Coarse
	uniform := true
	for _, p := range pairs {
		g := side(p).Coarse
		if g != grid {
			uniform = false
		}
		if g.H > grid.H {
			grid.H = g.H
		}
		if g.W > grid.W {
			grid.W = g.W
		}
	}
	return grid, uniform
}

// placeSample copies one image's grid rows into the padded batch layout and
// marks the occupied cells valid.
func placeSample(batch *coarsematch.FeatureBatch, mask *coarsematch.CellMask, b int, f *ImageFeatures, grid coarsematch.Size) {
	for r := 0; r < f.Coarse.H; r++ {
		for c := 0; c < f.Coarse.W; c++ {
			src := f.Data[(r*f.Coarse.W+c)*f.Channels : (r*f.Coarse.W+c+1)*f.Channels]
			cell := r*grid.W + c
			dst := batch.Data[(b*batch.Cells+cell)*batch.Channels : (b*batch.Cells+cell+1)*batch.Channels]
			copy(dst, src)
			if mask != nil {
				mask.Set(b, cell, true)
			}
		}
	}
}

// scaleCorrections collects one side's per-sample scale factors, or nil when
// every sample is 1 and no correction is needed.
func scaleCorrections(pairs []Pair, side func(Pair) *ImageFeatures) []float32 {
	needed := false
	out := make([]float32, len(pairs))
	for i, p := range pairs {
		out[i] = side(p).Scale
		if out[i] != 1 {
			needed = true
		}
	}
	if !needed {
		return nil
	}
	return out
}
