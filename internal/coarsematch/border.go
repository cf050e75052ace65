package coarsematch

// Border suppression operates on the candidate mask viewed as
// [N, H0c, W0c, H1c, W1c]: a pair survives only when both of its cells lie
// at least margin cells away from their grid's valid boundary. Features near
// an edge see less context and produce unreliable similarities.

// maskBorder zeroes candidates within margin cells of any physical grid edge
// on either image. No-op when margin <= 0. Used when every sample shares one
// grid size (no padding masks).
func maskBorder(keep []bool, n int, c0, c1 Size, margin int) {
	if margin <= 0 {
		return
	}
	h0, w0, h1, w1 := c0.H, c0.W, c1.H, c1.W
	l, s := c0.Cells(), c1.Cells()
	for b := 0; b < n; b++ {
		for i := 0; i < l; i++ {
			r0, q0 := i/w0, i%w0
			edge0 := r0 < margin || r0 >= h0-margin || q0 < margin || q0 >= w0-margin
			row := keep[(b*l+i)*s : (b*l+i)*s+s]
			if edge0 {
				for j := range row {
					row[j] = false
				}
				continue
			}
			for j := 0; j < s; j++ {
				r1, q1 := j/w1, j%w1
				if r1 < margin || r1 >= h1-margin || q1 < margin || q1 >= w1-margin {
					row[j] = false
				}
			}
		}
	}
}

// maskBorderWithPadding zeroes border candidates when samples were padded to
// a common shape. The top/left band uses the fixed margin from the physical
// edge; the bottom/right band is measured against each sample's own valid
// extent derived from its padding mask. No-op when margin <= 0.
func maskBorderWithPadding(keep []bool, n int, c0, c1 Size, margin int, mask0, mask1 *CellMask) {
	if margin <= 0 {
		return
	}
	w0, w1 := c0.W, c1.W
	l, s := c0.Cells(), c1.Cells()
	for b := 0; b < n; b++ {
		h0v, w0v := validExtent(mask0, b, c0)
		h1v, w1v := validExtent(mask1, b, c1)
		for i := 0; i < l; i++ {
			r0, q0 := i/w0, i%w0
			edge0 := r0 < margin || r0 >= h0v-margin || q0 < margin || q0 >= w0v-margin
			row := keep[(b*l+i)*s : (b*l+i)*s+s]
			if edge0 {
				for j := range row {
					row[j] = false
				}
				continue
			}
			for j := 0; j < s; j++ {
				r1, q1 := j/w1, j%w1
				if r1 < margin || r1 >= h1v-margin || q1 < margin || q1 >= w1v-margin {
					row[j] = false
				}
			}
		}
	}
}

// validExtent derives one sample's valid grid height and width from its
// padding mask: the height is the largest per-column count of valid cells,
// the width the largest per-row count.
func validExtent(m *CellMask, b int, grid Size) (int, int) {
	h, w := 0, 0
	for r := 0; r < grid.H; r++ {
		count := 0
		for c := 0; c < grid.W; c++ {
			if m.At(b, r*grid.W+c) {
				count++
			}
		}
		if count > w {
			w = count
		}
	}
	for c := 0; c < grid.W; c++ {
		count := 0
		for r := 0; r < grid.H; r++ {
			if m.At(b, r*grid.W+c) {
				count++
			}
		}
		if count > h {
			h = count
		}
	}
	return h, w
}
