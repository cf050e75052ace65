package coarsematch

// extract turns the confidence matrix into a deduplicated match list:
// threshold, border suppression, mutual-maximum filter, optional
// training-time fallback, then a stable (batch, row) scan with coordinate
// rescaling.
func (m *Matcher) extract(conf *ConfidenceMatrix, mask0, mask1 *CellMask, geom Geometry) *MatchSet {
	n, l, s := conf.N, conf.L, conf.S

	keep := make([]bool, len(conf.Data))
	for idx, v := range conf.Data {
		keep[idx] = v > m.cfg.Threshold
	}

	if mask0 == nil {
		maskBorder(keep, n, geom.Coarse0, geom.Coarse1, m.cfg.BorderMargin)
	} else {
		maskBorderWithPadding(keep, n, geom.Coarse0, geom.Coarse1, m.cfg.BorderMargin, mask0, mask1)
	}

	mutualMaxFilter(keep, conf)

	if geom.Training {
		forceNonEmpty(keep, n, l, s)
	}

	// Base coarse-to-full ratio, shared by both sides (documented Geometry
	// precondition).
	scale := float32(geom.Full0.H) / float32(geom.Coarse0.H)
	w0, w1 := geom.Coarse0.W, geom.Coarse1.W

	matches := &MatchSet{}
	for b := 0; b < n; b++ {
		s0, s1 := scale, scale
		if geom.Scale0 != nil {
			s0 = scale * geom.Scale0[b]
		}
		if geom.Scale1 != nil {
			s1 = scale * geom.Scale1[b]
		}
		for i := 0; i < l; i++ {
			row := keep[(b*l+i)*s : (b*l+i)*s+s]
			j := firstTrue(row)
			if j < 0 {
				continue
			}
			// Confidence comes from the matrix itself, not the mask, so the
			// reported score is the true assignment score even for pairs the
			// masking merely selected.
			mconf := conf.At(b, i, j)
			kp0 := [2]float32{float32(i%w0) * s0, float32(i/w0) * s0}
			kp1 := [2]float32{float32(j%w1) * s1, float32(j/w1) * s1}
			matches.add(b, i, j, kp0, kp1, mconf)
		}
	}
	return matches
}

// mutualMaxFilter keeps an entry only if it is simultaneously the maximum of
// its row and of its column, enforcing a one-to-one pairing absent ties.
func mutualMaxFilter(keep []bool, conf *ConfidenceMatrix) {
	n, l, s := conf.N, conf.L, conf.S
	rowMax := make([]float32, l)
	colMax := make([]float32, s)
	for b := 0; b < n; b++ {
		block := conf.Data[b*l*s : (b+1)*l*s]
		for i := range rowMax {
			rowMax[i] = 0
		}
		for j := range colMax {
			colMax[j] = 0
		}
		for i := 0; i < l; i++ {
			for j := 0; j < s; j++ {
				v := block[i*s+j]
				if v > rowMax[i] {
					rowMax[i] = v
				}
				if v > colMax[j] {
					colMax[j] = v
				}
			}
		}
		for i := 0; i < l; i++ {
			for j := 0; j < s; j++ {
				idx := i*s + j
				if keep[b*l*s+idx] {
					v := block[idx]
					keep[b*l*s+idx] = v == rowMax[i] && v == colMax[j]
				}
			}
		}
	}
}

// forceNonEmpty gives every sample with no surviving candidate a single
// synthetic match at cell (0,0). This is a training-time policy so that
// downstream supervision always sees at least one match per sample; it is
// never a genuine correspondence.
func forceNonEmpty(keep []bool, n, l, s int) {
	for b := 0; b < n; b++ {
		block := keep[b*l*s : (b+1)*l*s]
		empty := true
		for _, v := range block {
			if v {
				empty = false
				break
			}
		}
		if empty {
			block[0] = true
		}
	}
}

// firstTrue returns the index of the first true entry, or -1. After the
// mutual-maximum filter each row holds at most one candidate, so this is the
// row's argmax.
func firstTrue(row []bool) int {
	for j, v := range row {
		if v {
			return j
		}
	}
	return -1
}
