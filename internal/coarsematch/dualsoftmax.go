package coarsematch

import "github.com/chewxy/math32"

// dualSoftmax converts similarities into confidences as the elementwise
// product of a softmax over the image-0 axis and a softmax over the image-1
// axis. An entry is high only when both cells prefer each other against all
// their competitors. The product is deliberately not a joint distribution —
// rows and columns of the result do not sum to 1 — and must not be
// re-normalized; downstream thresholds depend on this exact behavior.
type dualSoftmax struct{}

func (dualSoftmax) confidence(sim []float32, n, l, s int) []float32 {
	conf := make([]float32, len(sim))
	colMax := make([]float32, s)
	colSum := make([]float32, s)

	for b := 0; b < n; b++ {
		block := sim[b*l*s : (b+1)*l*s]
		out := conf[b*l*s : (b+1)*l*s]

		// Column statistics: max-shifted exp sums over the image-0 axis.
		for j := 0; j < s; j++ {
			colMax[j] = math32.Inf(-1)
		}
		for i := 0; i < l; i++ {
			row := block[i*s : i*s+s]
			for j, v := range row {
				if v > colMax[j] {
					colMax[j] = v
				}
			}
		}
		for j := range colSum {
			colSum[j] = 0
		}
		for i := 0; i < l; i++ {
			row := block[i*s : i*s+s]
			for j, v := range row {
				colSum[j] += math32.Exp(v - colMax[j])
			}
		}

		// Row softmax times column softmax.
		for i := 0; i < l; i++ {
			row := block[i*s : i*s+s]
			rowMax := math32.Inf(-1)
			for _, v := range row {
				if v > rowMax {
					rowMax = v
				}
			}
			var rowSum float32
			for _, v := range row {
				rowSum += math32.Exp(v - rowMax)
			}
			for j, v := range row {
				rowSoft := math32.Exp(v-rowMax) / rowSum
				colSoft := math32.Exp(v-colMax[j]) / colSum[j]
				out[i*s+j] = rowSoft * colSoft
			}
		}
	}
	return conf
}
