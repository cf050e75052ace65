package handlers

import (
	"net/http"

	"gridmatch/internal/coarsematch"
)

// ConfigHandler exposes the active matcher configuration.
type ConfigHandler struct {
	cfg coarsematch.Config
}

// NewConfigHandler creates a config handler for the running matcher.
func NewConfigHandler(cfg coarsematch.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// Get handles GET /api/v1/config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"mode":                h.cfg.Mode,
		"threshold":           h.cfg.Threshold,
		"border_margin":       h.cfg.BorderMargin,
		"temperature":         h.cfg.Temperature,
		"bin_score":           h.cfg.BinScore,
		"sinkhorn_iterations": h.cfg.SinkhornIterations,
		"sinkhorn_prefilter":  h.cfg.SinkhornPrefilter,
	})
}
