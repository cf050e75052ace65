// Package coarsematch computes sparse correspondences between two batches of
// grid-organized feature vectors. It builds a normalized similarity matrix
// over all cell pairs, converts it into a confidence matrix with one of two
// differentiable assignment schemes (dual-softmax or Sinkhorn optimal
// transport), suppresses unreliable border cells, extracts mutual
// nearest-neighbour matches above a confidence threshold and rescales the
// surviving cell indices to full-resolution pixel coordinates.
package coarsematch

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Mode selects the assignment scheme used to turn similarities into
// confidences.
type Mode string

const (
	// ModeDualSoftmax multiplies row-wise and column-wise softmax marginals.
	ModeDualSoftmax Mode = "dual_softmax"
	// ModeSinkhorn runs log-domain optimal transport with a learned
	// no-match bin.
	ModeSinkhorn Mode = "sinkhorn"
)

// invalidScore is assigned to masked similarity entries so they receive
// near-zero probability after normalization.
const invalidScore float32 = -1e9

// Config controls matching behavior. Zero values are not usable directly;
// start from DefaultConfig.
type Config struct {
	// Mode is the assignment scheme. Unknown modes fail at construction.
	Mode Mode

	// Threshold is the minimum confidence for a pair to become a match.
	Threshold float32

	// BorderMargin is the width, in coarse cells, of the border band whose
	// matches are suppressed. 0 disables border suppression and is the
	// default for this deployment.
	BorderMargin int

	// Temperature divides the similarity matrix in dual-softmax mode.
	Temperature float32

	// BinScore is the initial value of the learnable no-match bin
	// (Sinkhorn only).
	BinScore float32

	// SinkhornIterations is the fixed number of normalization iterations
	// (Sinkhorn only).
	SinkhornIterations int

	// SinkhornPrefilter applies border masking to the similarity matrix
	// before the Sinkhorn iterations instead of only at extraction time.
	SinkhornPrefilter bool

	// TrainPadMin and TrainCoarsePercent are consumed by the training-time
	// match sampling policy around the matcher; the matcher itself only
	// reads Geometry.Training.
	TrainPadMin        int
	TrainCoarsePercent float32
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeDualSoftmax,
		Threshold:          0.2,
		BorderMargin:       0,
		Temperature:        0.1,
		BinScore:           1.0,
		SinkhornIterations: 3,
		SinkhornPrefilter:  false,
		TrainPadMin:        200,
		TrainCoarsePercent: 0.2,
	}
}

// assigner converts a batched, masked similarity matrix [n, l, s] into a
// confidence matrix of the same shape. The variant is fixed at construction.
type assigner interface {
	confidence(sim []float32, n, l, s int) []float32
}

// Matcher computes coarse matches. It is stateless across calls apart from
// the bin score, which is read-only during matching.
type Matcher struct {
	cfg    Config
	assign assigner
}

// New validates the configuration and builds a matcher with the assignment
// strategy selected once for its lifetime.
func New(cfg Config) (*Matcher, error) {
	m := &Matcher{cfg: cfg}
	switch cfg.Mode {
	case ModeDualSoftmax:
		if cfg.Temperature <= 0 {
			return nil, fmt.Errorf("dual-softmax temperature must be positive, got %v", cfg.Temperature)
		}
		m.assign = dualSoftmax{}
	case ModeSinkhorn:
		if cfg.SinkhornIterations <= 0 {
			return nil, fmt.Errorf("sinkhorn iteration count must be positive, got %d", cfg.SinkhornIterations)
		}
		m.assign = &sinkhorn{binScore: cfg.BinScore, iters: cfg.SinkhornIterations}
	default:
		return nil, fmt.Errorf("unknown matching mode %q", cfg.Mode)
	}
	return m, nil
}

// Config returns the matcher's configuration.
func (m *Matcher) Config() Config {
	return m.cfg
}

// BinScore returns the current no-match bin score (Sinkhorn mode only).
func (m *Matcher) BinScore() float32 {
	if sk, ok := m.assign.(*sinkhorn); ok {
		return sk.binScore
	}
	return 0
}

// SetBinScore updates the learnable bin score. It is the caller's training
// loop that enforces single-writer discipline; the matcher never writes it.
func (m *Matcher) SetBinScore(v float32) {
	if sk, ok := m.assign.(*sinkhorn); ok {
		sk.binScore = v
	}
}

// Match computes the confidence matrix and extracts the coarse match list
// for a batch of image pairs. mask0/mask1 mark real cells when samples of
// differing grid size were padded to a common shape; supply both or neither.
func (m *Matcher) Match(feat0, feat1 *FeatureBatch, mask0, mask1 *CellMask, geom Geometry) (*Result, error) {
	if err := validateInputs(feat0, feat1, mask0, mask1, geom); err != nil {
		return nil, err
	}
	n, l, s := feat0.N, feat0.Cells, feat1.Cells

	sim := m.similarity(feat0, feat1)
	if mask0 != nil {
		maskInvalidPairs(sim, n, l, s, mask0, mask1)
	}
	if m.cfg.Mode == ModeSinkhorn && m.cfg.SinkhornPrefilter && m.cfg.BorderMargin > 0 {
		m.prefilterBorders(sim, n, mask0, mask1, geom)
	}

	conf := &ConfidenceMatrix{N: n, L: l, S: s, Data: m.assign.confidence(sim, n, l, s)}
	matches := m.extract(conf, mask0, mask1, geom)
	return &Result{Confidence: conf, Matches: matches}, nil
}

func validateInputs(feat0, feat1 *FeatureBatch, mask0, mask1 *CellMask, geom Geometry) error {
	if feat0 == nil || feat1 == nil {
		return errors.New("both feature batches are required")
	}
	if feat0.N != feat1.N {
		return fmt.Errorf("batch size mismatch: %d vs %d", feat0.N, feat1.N)
	}
	if feat0.Channels != feat1.Channels {
		return fmt.Errorf("channel width mismatch: %d vs %d", feat0.Channels, feat1.Channels)
	}
	if feat0.Channels <= 0 {
		return fmt.Errorf("channel width must be positive, got %d", feat0.Channels)
	}
	if (mask0 == nil) != (mask1 == nil) {
		return errors.New("validity masks must be supplied for both images or neither")
	}
	if mask0 != nil {
		if mask0.N != feat0.N || mask0.Cells != feat0.Cells {
			return fmt.Errorf("mask0 shape [%d,%d] does not match features [%d,%d]",
				mask0.N, mask0.Cells, feat0.N, feat0.Cells)
		}
		if mask1.N != feat1.N || mask1.Cells != feat1.Cells {
			return fmt.Errorf("mask1 shape [%d,%d] does not match features [%d,%d]",
				mask1.N, mask1.Cells, feat1.N, feat1.Cells)
		}
	}
	if geom.Coarse0.H <= 0 || geom.Coarse0.W <= 0 {
		return fmt.Errorf("coarse grid 0 %dx%d must have positive dimensions", geom.Coarse0.H, geom.Coarse0.W)
	}
	if geom.Coarse1.H <= 0 || geom.Coarse1.W <= 0 {
		return fmt.Errorf("coarse grid 1 %dx%d must have positive dimensions", geom.Coarse1.H, geom.Coarse1.W)
	}
	if geom.Coarse0.Cells() != feat0.Cells {
		return fmt.Errorf("coarse grid 0 %dx%d does not cover %d cells", geom.Coarse0.H, geom.Coarse0.W, feat0.Cells)
	}
	if geom.Coarse1.Cells() != feat1.Cells {
		return fmt.Errorf("coarse grid 1 %dx%d does not cover %d cells", geom.Coarse1.H, geom.Coarse1.W, feat1.Cells)
	}
	if geom.Scale0 != nil && len(geom.Scale0) != feat0.N {
		return fmt.Errorf("scale0 has %d entries for batch size %d", len(geom.Scale0), feat0.N)
	}
	if geom.Scale1 != nil && len(geom.Scale1) != feat1.N {
		return fmt.Errorf("scale1 has %d entries for batch size %d", len(geom.Scale1), feat1.N)
	}
	return nil
}

// similarity computes the scaled dot-product similarity [n, l, s] with one
// Sgemm per sample. The 1/sqrt(C) normalization of each feature side is
// folded into the gemm scale factor, together with the dual-softmax
// temperature.
func (m *Matcher) similarity(feat0, feat1 *FeatureBatch) []float32 {
	n, l, s, c := feat0.N, feat0.Cells, feat1.Cells, feat0.Channels
	alpha := 1 / float32(c)
	if m.cfg.Mode == ModeDualSoftmax {
		alpha /= m.cfg.Temperature
	}

	sim := make([]float32, n*l*s)
	for b := 0; b < n; b++ {
		a := blas32.General{Rows: l, Cols: c, Stride: c, Data: feat0.sample(b)}
		bt := blas32.General{Rows: s, Cols: c, Stride: c, Data: feat1.sample(b)}
		out := blas32.General{Rows: l, Cols: s, Stride: s, Data: sim[b*l*s : (b+1)*l*s]}
		blas32.Gemm(blas.NoTrans, blas.Trans, alpha, a, bt, 0, out)
	}
	return sim
}

// maskInvalidPairs forces the similarity of any pair with a padded cell on
// either side to a large negative value.
func maskInvalidPairs(sim []float32, n, l, s int, mask0, mask1 *CellMask) {
	for b := 0; b < n; b++ {
		for i := 0; i < l; i++ {
			row := sim[(b*l+i)*s : (b*l+i)*s+s]
			if !mask0.At(b, i) {
				for j := range row {
					row[j] = invalidScore
				}
				continue
			}
			for j := 0; j < s; j++ {
				if !mask1.At(b, j) {
					row[j] = invalidScore
				}
			}
		}
	}
}

// prefilterBorders invalidates border cells in the similarity matrix before
// the Sinkhorn iterations so the transport plan never routes mass to them.
func (m *Matcher) prefilterBorders(sim []float32, n int, mask0, mask1 *CellMask, geom Geometry) {
	l, s := geom.Coarse0.Cells(), geom.Coarse1.Cells()
	keep := make([]bool, n*l*s)
	for i := range keep {
		keep[i] = true
	}
	if mask0 == nil {
		maskBorder(keep, n, geom.Coarse0, geom.Coarse1, m.cfg.BorderMargin)
	} else {
		maskBorderWithPadding(keep, n, geom.Coarse0, geom.Coarse1, m.cfg.BorderMargin, mask0, mask1)
	}
	for i, ok := range keep {
		if !ok {
			sim[i] = invalidScore
		}
	}
}
