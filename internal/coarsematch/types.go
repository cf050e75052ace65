package coarsematch

// Size is a (height, width) pair describing a grid or image resolution.
type Size struct {
	H int
	W int
}

// Cells returns the number of grid cells covered by the size.
func (s Size) Cells() int {
	return s.H * s.W
}

// FeatureBatch holds per-cell feature vectors for a batch of images.
// Data is laid out row-major as [batch][cell][channel]; cells enumerate a
// flattened H×W coarse grid in row-major order.
type FeatureBatch struct {
	N        int // batch size
	Cells    int // cells per sample (coarse grid H*W)
	Channels int // feature dimension
	Data     []float32
}

// NewFeatureBatch allocates a zeroed feature batch.
func NewFeatureBatch(n, cells, channels int) *FeatureBatch {
	return &FeatureBatch{
		N:        n,
		Cells:    cells,
		Channels: channels,
		Data:     make([]float32, n*cells*channels),
	}
}

// At returns the feature value for (batch, cell, channel).
func (f *FeatureBatch) At(b, cell, ch int) float32 {
	return f.Data[(b*f.Cells+cell)*f.Channels+ch]
}

// Set stores a feature value for (batch, cell, channel).
func (f *FeatureBatch) Set(b, cell, ch int, v float32) {
	f.Data[(b*f.Cells+cell)*f.Channels+ch] = v
}

// sample returns one sample's features as a [cells*channels] slice.
func (f *FeatureBatch) sample(b int) []float32 {
	size := f.Cells * f.Channels
	return f.Data[b*size : (b+1)*size]
}

// CellMask marks which grid cells of each sample hold real data. Cells
// introduced by padding variable-size images to a common batch shape are
// false. Data is laid out as [batch][cell].
type CellMask struct {
	N     int
	Cells int
	Data  []bool
}

// NewCellMask allocates a mask with all cells invalid.
func NewCellMask(n, cells int) *CellMask {
	return &CellMask{N: n, Cells: cells, Data: make([]bool, n*cells)}
}

// At reports whether (batch, cell) holds real data.
func (m *CellMask) At(b, cell int) bool {
	return m.Data[b*m.Cells+cell]
}

// Set marks (batch, cell) valid or invalid.
func (m *CellMask) Set(b, cell int, v bool) {
	m.Data[b*m.Cells+cell] = v
}

// Geometry carries the resolution metadata needed to reshape flattened cell
// indices into 2-D grids and to rescale matches back to full-resolution
// pixel coordinates.
//
// Both images must share one coarse-to-full ratio: the ratio is derived from
// image 0 (Full0.H / Coarse0.H, square cells assumed) and reused for image 1.
// Per-sample corrections from non-uniform resizing go in Scale0/Scale1.
type Geometry struct {
	Full0   Size // image 0 original resolution
	Full1   Size // image 1 original resolution
	Coarse0 Size // image 0 coarse grid resolution
	Coarse1 Size // image 1 coarse grid resolution

	// Optional per-sample scale corrections, length N or nil.
	Scale0 []float32
	Scale1 []float32

	// Training enables the non-emptiness guarantee: samples with no match
	// above threshold get one synthetic match at cell (0,0). Must be false
	// for inference-only use.
	Training bool
}

// ConfidenceMatrix is the doubly-normalized matching score for every cell
// pair, [batch][L][S] with L/S the cell counts of image 0/1.
type ConfidenceMatrix struct {
	N    int
	L    int
	S    int
	Data []float32
}

// At returns the confidence for (batch, i, j).
func (c *ConfidenceMatrix) At(b, i, j int) float32 {
	return c.Data[(b*c.L+i)*c.S+j]
}

// MatchSet is the extracted match list as equal-length parallel slices.
// Ordering follows the extraction scan: batch id non-decreasing, row index
// non-decreasing within a batch.
type MatchSet struct {
	BatchID      []int          // sample index of each match
	I            []int          // flat cell index in image 0
	J            []int          // flat cell index in image 1
	MatchBatchID []int          // duplicate of BatchID, kept for downstream consumers
	Keypoints0   [][2]float32   // full-resolution (x, y) in image 0
	Keypoints1   [][2]float32   // full-resolution (x, y) in image 1
	Confidence   []float32
}

// Len returns the number of matches.
func (m *MatchSet) Len() int {
	return len(m.I)
}

func (m *MatchSet) add(b, i, j int, kp0, kp1 [2]float32, conf float32) {
	m.BatchID = append(m.BatchID, b)
	m.I = append(m.I, i)
	m.J = append(m.J, j)
	m.MatchBatchID = append(m.MatchBatchID, b)
	m.Keypoints0 = append(m.Keypoints0, kp0)
	m.Keypoints1 = append(m.Keypoints1, kp1)
	m.Confidence = append(m.Confidence, conf)
}

// Result bundles the full confidence matrix (kept for loss computation by
// the caller) with the extracted match list.
type Result struct {
	Confidence *ConfidenceMatrix
	Matches    *MatchSet
}
