package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"gridmatch/internal/coarsematch"
	"gridmatch/internal/database"
)

// fakeStore is an in-memory MatchStore for handler tests.
type fakeStore struct {
	matches map[string]*database.StoredMatch
	points  map[string][]database.MatchPoint
	saved   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		matches: make(map[string]*database.StoredMatch),
		points:  make(map[string][]database.MatchPoint),
	}
}

func (f *fakeStore) SaveMatch(_ context.Context, match *database.StoredMatch, points []database.MatchPoint) error {
	if match.PairID == "" {
		match.PairID = "pair-fake"
	}
	f.matches[match.PairID] = match
	f.points[match.PairID] = points
	f.saved++
	return nil
}

func (f *fakeStore) DeleteMatch(_ context.Context, pairID string) error {
	delete(f.matches, pairID)
	delete(f.points, pairID)
	return nil
}

func (f *fakeStore) GetMatch(_ context.Context, pairID string) (*database.StoredMatch, []database.MatchPoint, error) {
	m, ok := f.matches[pairID]
	if !ok {
		return nil, nil, nil
	}
	return m, f.points[pairID], nil
}

func (f *fakeStore) ListMatches(_ context.Context, imageID string) ([]database.StoredMatch, error) {
	var out []database.StoredMatch
	for _, m := range f.matches {
		if m.ID0 == imageID || m.ID1 == imageID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func newTestMatcher(t *testing.T) *coarsematch.Matcher {
	t.Helper()
	m, err := coarsematch.New(coarsematch.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func testRouter(matcher *coarsematch.Matcher, store MatchStore) *chi.Mux {
	h := NewMatchHandler(matcher, store)
	r := chi.NewRouter()
	r.Post("/match", h.Match)
	r.Get("/matches/{pairId}", h.Get)
	r.Get("/images/{id}/matches", h.List)
	return r
}

// matchBody builds a request with two 2x2 feature grids (4 channels, 16x16
// images) where cell 0 of the first image and cell 3 of the second share the
// only non-zero feature. The matcher finds exactly one correspondence there.
func matchBody(save bool) []byte {
	data0 := make([]float32, 16)
	data1 := make([]float32, 16)
	data0[0] = 2   // cell 0, channel 0
	data1[12] = 0.8 // cell 3, channel 0

	body := map[string]any{
		"pairs": []map[string]any{{
			"image0": map[string]any{
				"id": "left", "coarse_h": 2, "coarse_w": 2,
				"full_h": 16, "full_w": 16, "channels": 4, "data": data0,
			},
			"image1": map[string]any{
				"id": "right", "coarse_h": 2, "coarse_w": 2,
				"full_h": 16, "full_w": 16, "channels": 4, "data": data1,
			},
		}},
		"save": save,
	}
	raw, _ := json.Marshal(body)
	return raw
}

func TestMatch_Endpoint(t *testing.T) {
	router := testRouter(newTestMatcher(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/match", bytes.NewReader(matchBody(false)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp matchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Mode != "dual_softmax" {
		t.Errorf("expected mode dual_softmax, got %q", resp.Mode)
	}
	if len(resp.Pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(resp.Pairs))
	}

	pr := resp.Pairs[0]
	if pr.Image0 != "left" || pr.Image1 != "right" {
		t.Errorf("pair ids = (%q, %q)", pr.Image0, pr.Image1)
	}
	if pr.MatchCount != 1 || len(pr.Matches) != 1 {
		t.Fatalf("expected exactly 1 match, got count=%d len=%d", pr.MatchCount, len(pr.Matches))
	}

	m := pr.Matches[0]
	if m.I != 0 || m.J != 3 {
		t.Errorf("expected match (i=0, j=3), got (i=%d, j=%d)", m.I, m.J)
	}
	// Cell 0 of a 2x2 grid on a 16x16 image is (0,0); cell 3 is (8,8).
	if m.X0 != 0 || m.Y0 != 0 || m.X1 != 8 || m.Y1 != 8 {
		t.Errorf("unexpected keypoints: (%v,%v) -> (%v,%v)", m.X0, m.Y0, m.X1, m.Y1)
	}
	if math.Abs(pr.MeanConfidence-float64(m.Confidence)) > 1e-9 {
		t.Errorf("mean confidence %v should equal the single match confidence %v", pr.MeanConfidence, m.Confidence)
	}
}

func TestMatch_EndpointErrors(t *testing.T) {
	router := testRouter(newTestMatcher(t), nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: "{not json", want: http.StatusBadRequest},
		{name: "no pairs", body: `{"pairs": []}`, want: http.StatusBadRequest},
		{name: "save without store", body: string(matchBody(true)), want: http.StatusBadRequest},
		{name: "invalid features", body: `{"pairs": [{"image0": {"id": "a"}, "image1": {"id": "b"}}]}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/match", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestMatch_SaveAndGet(t *testing.T) {
	store := newFakeStore()
	router := testRouter(newTestMatcher(t), store)

	req := httptest.NewRequest(http.MethodPost, "/match", bytes.NewReader(matchBody(true)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.saved != 1 {
		t.Fatalf("expected 1 saved match, got %d", store.saved)
	}

	var resp matchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	pairID := resp.Pairs[0].PairID
	if pairID == "" {
		t.Fatalf("expected pair_id in save response")
	}

	req = httptest.NewRequest(http.MethodGet, "/matches/"+pairID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Mode string       `json:"mode"`
		Pair pairResponse `json:"pair"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Mode != "dual_softmax" {
		t.Errorf("expected stored mode dual_softmax, got %q", got.Mode)
	}
	if got.Pair.Image0 != "left" || got.Pair.Image1 != "right" || len(got.Pair.Matches) != 1 {
		t.Errorf("unexpected stored pair: %+v", got.Pair)
	}
}

func TestMatch_GetUnknownPair(t *testing.T) {
	router := testRouter(newTestMatcher(t), newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/matches/no-such-pair", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestMatch_GetWithoutStore(t *testing.T) {
	router := testRouter(newTestMatcher(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/matches/any", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestMatch_ListByImage(t *testing.T) {
	store := newFakeStore()
	router := testRouter(newTestMatcher(t), store)

	req := httptest.NewRequest(http.MethodPost, "/match", bytes.NewReader(matchBody(true)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/images/left/matches", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Image string `json:"image"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Image != "left" || got.Count != 1 {
		t.Errorf("expected 1 match for image left, got %+v", got)
	}
}
