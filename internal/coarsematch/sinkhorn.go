package coarsematch

import "github.com/chewxy/math32"

// sinkhorn converts similarities into an approximate optimal-transport plan
// using log-domain Sinkhorn iterations over the similarity matrix augmented
// with a learnable no-match bin as an extra row and column. The bin absorbs
// cells with no counterpart; it is dropped from the returned confidences.
type sinkhorn struct {
	binScore float32
	iters    int
}

func (k *sinkhorn) confidence(sim []float32, n, l, s int) []float32 {
	conf := make([]float32, n*l*s)
	for b := 0; b < n; b++ {
		z := k.transportPlan(sim[b*l*s:(b+1)*l*s], l, s)
		out := conf[b*l*s : (b+1)*l*s]
		for i := 0; i < l; i++ {
			for j := 0; j < s; j++ {
				out[i*s+j] = math32.Exp(z[i*(s+1)+j])
			}
		}
	}
	return conf
}

// transportPlan runs the iterations on a single similarity matrix and
// returns the log assignment over the augmented [(l+1) x (s+1)] shape,
// rescaled so each non-bin row and column carries unit mass.
func (k *sinkhorn) transportPlan(scores []float32, l, s int) []float32 {
	rows, cols := l+1, s+1
	z := make([]float32, rows*cols)
	for i := 0; i < l; i++ {
		copy(z[i*cols:i*cols+s], scores[i*s:(i+1)*s])
		z[i*cols+s] = k.binScore
	}
	for j := 0; j < cols; j++ {
		z[l*cols+j] = k.binScore
	}

	// Log marginals: unit mass per real cell, the bins carry the mass of
	// the whole opposite side.
	norm := -math32.Log(float32(l + s))
	logMu := make([]float32, rows)
	logNu := make([]float32, cols)
	for i := 0; i < l; i++ {
		logMu[i] = norm
	}
	logMu[l] = math32.Log(float32(s)) + norm
	for j := 0; j < s; j++ {
		logNu[j] = norm
	}
	logNu[s] = math32.Log(float32(l)) + norm

	u := make([]float32, rows)
	v := make([]float32, cols)
	buf := make([]float32, cols)
	colBuf := make([]float32, rows)
	for t := 0; t < k.iters; t++ {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				buf[j] = z[i*cols+j] + v[j]
			}
			u[i] = logMu[i] - logSumExp(buf)
		}
		for j := 0; j < cols; j++ {
			for i := 0; i < rows; i++ {
				colBuf[i] = z[i*cols+j] + u[i]
			}
			v[j] = logNu[j] - logSumExp(colBuf)
		}
	}

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			z[i*cols+j] += u[i] + v[j] - norm
		}
	}
	return z
}

// logSumExp is the max-shifted log of the sum of exponentials.
func logSumExp(xs []float32) float32 {
	m := math32.Inf(-1)
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	if math32.IsInf(m, -1) {
		return m
	}
	var sum float32
	for _, x := range xs {
		sum += math32.Exp(x - m)
	}
	return m + math32.Log(sum)
}
