package coarsematch

import (
	"math"
	"testing"
)

// pairFeatures builds a 1-sample batch of 2x2 grids (4 cells, 4 channels)
// where cell i0 of image 0 and cell j1 of image 1 share a dominant feature
// direction and every other cell is zero.
func pairFeatures(i0, j1 int, mag0, mag1 float32) (*FeatureBatch, *FeatureBatch) {
	f0 := NewFeatureBatch(1, 4, 4)
	f1 := NewFeatureBatch(1, 4, 4)
	f0.Set(0, i0, 0, mag0)
	f1.Set(0, j1, 0, mag1)
	return f0, f1
}

func squareGeometry(coarse, full int) Geometry {
	return Geometry{
		Full0:   Size{H: full, W: full},
		Full1:   Size{H: full, W: full},
		Coarse0: Size{H: coarse, W: coarse},
		Coarse1: Size{H: coarse, W: coarse},
	}
}

func TestNew_ConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "sinkhorn defaults", mutate: func(c *Config) { c.Mode = ModeSinkhorn }, wantErr: false},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "optimal" }, wantErr: true},
		{name: "empty mode", mutate: func(c *Config) { c.Mode = "" }, wantErr: true},
		{name: "zero temperature", mutate: func(c *Config) { c.Temperature = 0 }, wantErr: true},
		{name: "negative temperature", mutate: func(c *Config) { c.Temperature = -0.1 }, wantErr: true},
		{name: "zero sinkhorn iterations", mutate: func(c *Config) {
			c.Mode = ModeSinkhorn
			c.SinkhornIterations = 0
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%+v) error = %v, wantErr %v", cfg, err, tt.wantErr)
			}
		})
	}
}

func TestMatch_MutualPairScenario(t *testing.T) {
	// Engineered so that sim(0,3) = (2*0.8)/(C*temperature) = 4.0 against a
	// zero background, giving conf(0,3) = (e^4/(e^4+3))^2 ~ 0.9.
	f0, f1 := pairFeatures(0, 3, 2, 0.8)

	m, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := m.Match(f0, f1, nil, nil, squareGeometry(2, 16))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}

	if res.Matches.Len() != 1 {
		t.Fatalf("expected exactly 1 match, got %d", res.Matches.Len())
	}
	if res.Matches.BatchID[0] != 0 || res.Matches.I[0] != 0 || res.Matches.J[0] != 3 {
		t.Errorf("expected match (b=0, i=0, j=3), got (b=%d, i=%d, j=%d)",
			res.Matches.BatchID[0], res.Matches.I[0], res.Matches.J[0])
	}
	if conf := res.Matches.Confidence[0]; math.Abs(float64(conf)-0.9) > 0.01 {
		t.Errorf("expected confidence ~0.9, got %v", conf)
	}
	if res.Matches.MatchBatchID[0] != res.Matches.BatchID[0] {
		t.Errorf("MatchBatchID should duplicate BatchID")
	}
}

func TestMatch_ConfidenceInUnitInterval(t *testing.T) {
	// Deterministic pseudo-random features; dual-softmax confidences must
	// stay inside [0,1] for any input.
	f0 := NewFeatureBatch(2, 9, 8)
	f1 := NewFeatureBatch(2, 9, 8)
	seed := uint32(1)
	next := func() float32 {
		seed = seed*1664525 + 1013904223
		return float32(seed%2000)/1000 - 1
	}
	for i := range f0.Data {
		f0.Data[i] = next()
	}
	for i := range f1.Data {
		f1.Data[i] = next()
	}

	m, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	geom := Geometry{
		Full0: Size{H: 24, W: 24}, Full1: Size{H: 24, W: 24},
		Coarse0: Size{H: 3, W: 3}, Coarse1: Size{H: 3, W: 3},
	}
	res, err := m.Match(f0, f1, nil, nil, geom)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	for idx, v := range res.Confidence.Data {
		if v < 0 || v > 1 {
			t.Fatalf("confidence[%d] = %v outside [0,1]", idx, v)
		}
	}
}

func TestMatch_Idempotent(t *testing.T) {
	f0, f1 := pairFeatures(1, 2, 2, 1)
	m, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	geom := squareGeometry(2, 16)

	first, err := m.Match(f0, f1, nil, nil, geom)
	if err != nil {
		t.Fatalf("first Match: %v", err)
	}
	second, err := m.Match(f0, f1, nil, nil, geom)
	if err != nil {
		t.Fatalf("second Match: %v", err)
	}

	if len(first.Confidence.Data) != len(second.Confidence.Data) {
		t.Fatalf("confidence size changed between calls")
	}
	for i := range first.Confidence.Data {
		if first.Confidence.Data[i] != second.Confidence.Data[i] {
			t.Fatalf("confidence[%d] differs: %v vs %v", i, first.Confidence.Data[i], second.Confidence.Data[i])
		}
	}
	if first.Matches.Len() != second.Matches.Len() {
		t.Fatalf("match count differs: %d vs %d", first.Matches.Len(), second.Matches.Len())
	}
	for i := range first.Matches.I {
		if first.Matches.I[i] != second.Matches.I[i] || first.Matches.J[i] != second.Matches.J[i] {
			t.Fatalf("match %d differs between calls", i)
		}
	}
}

func TestMatch_InputValidation(t *testing.T) {
	f0 := NewFeatureBatch(1, 4, 4)
	f1 := NewFeatureBatch(1, 4, 4)
	mask := NewCellMask(1, 4)
	geom := squareGeometry(2, 16)

	m, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name string
		run  func() error
	}{
		{name: "only mask0 supplied", run: func() error {
			_, err := m.Match(f0, f1, mask, nil, geom)
			return err
		}},
		{name: "only mask1 supplied", run: func() error {
			_, err := m.Match(f0, f1, nil, mask, geom)
			return err
		}},
		{name: "channel mismatch", run: func() error {
			wide := NewFeatureBatch(1, 4, 8)
			_, err := m.Match(f0, wide, nil, nil, geom)
			return err
		}},
		{name: "batch size mismatch", run: func() error {
			big := NewFeatureBatch(2, 4, 4)
			_, err := m.Match(f0, big, nil, nil, geom)
			return err
		}},
		{name: "grid does not cover cells", run: func() error {
			bad := geom
			bad.Coarse0 = Size{H: 3, W: 3}
			_, err := m.Match(f0, f1, nil, nil, bad)
			return err
		}},
		{name: "scale length mismatch", run: func() error {
			bad := geom
			bad.Scale0 = []float32{1, 1}
			_, err := m.Match(f0, f1, nil, nil, bad)
			return err
		}},
		{name: "nil features", run: func() error {
			_, err := m.Match(nil, f1, nil, nil, geom)
			return err
		}},
		{name: "zero-width grid", run: func() error {
			// A 1x0 grid covers 0 cells, so the coverage equality alone
			// cannot reject it; the gemm and the training fallback would
			// both blow up on the empty sample.
			empty := NewFeatureBatch(1, 0, 4)
			bad := geom
			bad.Coarse0 = Size{H: 1, W: 0}
			bad.Training = true
			_, err := m.Match(empty, f1, nil, nil, bad)
			return err
		}},
		{name: "zero-height grid", run: func() error {
			empty := NewFeatureBatch(1, 0, 4)
			bad := geom
			bad.Coarse1 = Size{H: 0, W: 3}
			_, err := m.Match(f0, empty, nil, nil, bad)
			return err
		}},
		{name: "zero channels", run: func() error {
			a := NewFeatureBatch(1, 4, 0)
			b := NewFeatureBatch(1, 4, 0)
			_, err := m.Match(a, b, nil, nil, geom)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}

func TestMatch_PaddedCellsNeverMatch(t *testing.T) {
	// The strongest pair sits on a padded cell of image 1; with masks
	// supplied it must be excluded and the weaker genuine pair wins.
	f0 := NewFeatureBatch(1, 4, 4)
	f1 := NewFeatureBatch(1, 4, 4)
	f0.Set(0, 1, 0, 2)
	f1.Set(0, 3, 0, 4) // padded, strongest
	f1.Set(0, 2, 0, 1) // genuine

	mask0 := NewCellMask(1, 4)
	mask1 := NewCellMask(1, 4)
	for c := 0; c < 4; c++ {
		mask0.Set(0, c, true)
		mask1.Set(0, c, c != 3)
	}

	cfg := DefaultConfig()
	cfg.Threshold = 0.1
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := m.Match(f0, f1, mask0, mask1, squareGeometry(2, 16))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}

	for k := 0; k < res.Matches.Len(); k++ {
		if res.Matches.J[k] == 3 {
			t.Fatalf("match %d pairs with padded cell 3", k)
		}
	}
	if res.Matches.Len() != 1 || res.Matches.I[0] != 1 || res.Matches.J[0] != 2 {
		t.Fatalf("expected single match (i=1, j=2), got %d matches %v -> %v",
			res.Matches.Len(), res.Matches.I, res.Matches.J)
	}
}
