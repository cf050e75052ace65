package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gridmatch/internal/coarsematch"
	"gridmatch/internal/database"
	"gridmatch/internal/features"
)

// MatchStore is the persistence surface the match handler needs. It is nil
// when the server runs without a database.
type MatchStore interface {
	database.MatchReader
	database.MatchWriter
}

// MatchHandler serves the matching endpoints.
type MatchHandler struct {
	matcher *coarsematch.Matcher
	store   MatchStore
}

// NewMatchHandler creates a match handler. store may be nil to disable
// persistence.
func NewMatchHandler(matcher *coarsematch.Matcher, store MatchStore) *MatchHandler {
	return &MatchHandler{matcher: matcher, store: store}
}

// featurePayload is one image's feature grid as sent by clients.
type featurePayload struct {
	ID       string    `json:"id"`
	CoarseH  int       `json:"coarse_h"`
	CoarseW  int       `json:"coarse_w"`
	FullH    int       `json:"full_h"`
	FullW    int       `json:"full_w"`
	Channels int       `json:"channels"`
	Data     []float32 `json:"data"`
	Scale    float32   `json:"scale,omitempty"`
}

func (p *featurePayload) toFeatures() *features.ImageFeatures {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	return &features.ImageFeatures{
		ID:       p.ID,
		Coarse:   coarsematch.Size{H: p.CoarseH, W: p.CoarseW},
		Full:     coarsematch.Size{H: p.FullH, W: p.FullW},
		Channels: p.Channels,
		Data:     p.Data,
		Scale:    scale,
	}
}

type matchRequest struct {
	Pairs []struct {
		Image0 featurePayload `json:"image0"`
		Image1 featurePayload `json:"image1"`
	} `json:"pairs"`
	Save bool `json:"save,omitempty"`
}

// matchPointResponse is one correspondence in full-resolution coordinates.
type matchPointResponse struct {
	I          int     `json:"i"`
	J          int     `json:"j"`
	X0         float32 `json:"x0"`
	Y0         float32 `json:"y0"`
	X1         float32 `json:"x1"`
	Y1         float32 `json:"y1"`
	Confidence float32 `json:"confidence"`
}

type pairResponse struct {
	Image0         string               `json:"image0"`
	Image1         string               `json:"image1"`
	MatchCount     int                  `json:"match_count"`
	MeanConfidence float64              `json:"mean_confidence"`
	PairID         string               `json:"pair_id,omitempty"`
	Matches        []matchPointResponse `json:"matches"`
}

type matchResponse struct {
	Mode  string         `json:"mode"`
	Pairs []pairResponse `json:"pairs"`
}

// Match handles POST /api/v1/match: runs the matcher over the submitted
// pairs and optionally persists the results.
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Pairs) == 0 {
		respondError(w, http.StatusBadRequest, "at least one pair is required")
		return
	}
	if req.Save && h.store == nil {
		respondError(w, http.StatusBadRequest, "match persistence is not configured")
		return
	}

	pairs := make([]features.Pair, len(req.Pairs))
	for i, p := range req.Pairs {
		pairs[i] = features.Pair{A: p.Image0.toFeatures(), B: p.Image1.toFeatures()}
	}

	batch, err := features.BuildBatch(pairs, false)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.matcher.Match(batch.Feat0, batch.Feat1, batch.Mask0, batch.Mask1, batch.Geom)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	mode := string(h.matcher.Config().Mode)
	resp := matchResponse{Mode: mode, Pairs: groupByPair(pairs, res.Matches)}

	if req.Save {
		for i := range resp.Pairs {
			pairID, err := h.saveResult(r, &resp.Pairs[i], mode)
			if err != nil {
				respondError(w, http.StatusInternalServerError, fmt.Sprintf("could not save match: %v", err))
				return
			}
			resp.Pairs[i].PairID = pairID
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// groupByPair splits the flat match list into per-pair responses, keeping
// the matcher's stable ordering.
func groupByPair(pairs []features.Pair, matches *coarsematch.MatchSet) []pairResponse {
	out := make([]pairResponse, len(pairs))
	for i, p := range pairs {
		out[i] = pairResponse{
			Image0:  p.A.ID,
			Image1:  p.B.ID,
			Matches: []matchPointResponse{},
		}
	}

	for k := 0; k < matches.Len(); k++ {
		b := matches.BatchID[k]
		pr := &out[b]
		pr.Matches = append(pr.Matches, matchPointResponse{
			I:          matches.I[k],
			J:          matches.J[k],
			X0:         matches.Keypoints0[k][0],
			Y0:         matches.Keypoints0[k][1],
			X1:         matches.Keypoints1[k][0],
			Y1:         matches.Keypoints1[k][1],
			Confidence: matches.Confidence[k],
		})
		pr.MeanConfidence += float64(matches.Confidence[k])
	}

	for i := range out {
		out[i].MatchCount = len(out[i].Matches)
		if out[i].MatchCount > 0 {
			out[i].MeanConfidence /= float64(out[i].MatchCount)
		}
	}
	return out
}

func (h *MatchHandler) saveResult(r *http.Request, pr *pairResponse, mode string) (string, error) {
	stored := &database.StoredMatch{
		ID0:            pr.Image0,
		ID1:            pr.Image1,
		Mode:           mode,
		MatchCount:     pr.MatchCount,
		MeanConfidence: pr.MeanConfidence,
	}
	points := make([]database.MatchPoint, len(pr.Matches))
	for i, m := range pr.Matches {
		points[i] = database.MatchPoint{
			I: m.I, J: m.J,
			X0: m.X0, Y0: m.Y0,
			X1: m.X1, Y1: m.Y1,
			Confidence: m.Confidence,
		}
	}
	if err := h.store.SaveMatch(r.Context(), stored, points); err != nil {
		return "", err
	}
	return stored.PairID, nil
}

// Get handles GET /api/v1/matches/{pairId}: returns a stored match with its
// correspondences.
func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusNotFound, "match persistence is not configured")
		return
	}
	pairID := chi.URLParam(r, "pairId")

	match, points, err := h.store.GetMatch(r.Context(), pairID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if match == nil {
		respondError(w, http.StatusNotFound, "match not found")
		return
	}

	pr := pairResponse{
		Image0:         match.ID0,
		Image1:         match.ID1,
		MatchCount:     match.MatchCount,
		MeanConfidence: match.MeanConfidence,
		PairID:         match.PairID,
		Matches:        make([]matchPointResponse, len(points)),
	}
	for i, p := range points {
		pr.Matches[i] = matchPointResponse{
			I: p.I, J: p.J,
			X0: p.X0, Y0: p.Y0,
			X1: p.X1, Y1: p.Y1,
			Confidence: p.Confidence,
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"mode": match.Mode, "pair": pr})
}

// List handles GET /api/v1/images/{id}/matches: lists stored matches
// involving one image.
func (h *MatchHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusNotFound, "match persistence is not configured")
		return
	}
	id := chi.URLParam(r, "id")

	matches, err := h.store.ListMatches(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"image":   id,
		"count":   len(matches),
		"matches": matches,
	})
}
