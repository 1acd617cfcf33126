package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/clinicsync/platform/internal/store"
	syncengine "github.com/clinicsync/platform/internal/sync"
	"github.com/clinicsync/platform/internal/tenancy"
	"github.com/clinicsync/platform/pkg/logging"
)

// TagReclassifier applies a changed vocabulary to stored data.
// *sync.Reclassifier satisfies it.
type TagReclassifier interface {
	Apply(ctx context.Context, userID string, settings store.Settings) (syncengine.RefreshCounts, error)
}

// SettingsStore reads the current settings so partial updates keep the
// untouched fields.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (store.Settings, error)
}

// SettingsHandler manages the clinic's funding-tag vocabulary.
type SettingsHandler struct {
	reclassifier TagReclassifier
	settings     SettingsStore
	logger       *logging.Logger
}

func NewSettingsHandler(reclassifier TagReclassifier, settings SettingsStore, logger *logging.Logger) *SettingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SettingsHandler{reclassifier: reclassifier, settings: settings, logger: logger}
}

type fundingTagsRequest struct {
	WCTags   []string `json:"wcTags"`
	EPCTags  []string `json:"epcTags"`
	WCQuota  *int     `json:"wcQuota,omitempty"`
	EPCQuota *int     `json:"epcQuota,omitempty"`
}

type fundingTagsResponse struct {
	WCTags    []string                 `json:"wcTags"`
	EPCTags   []string                 `json:"epcTags"`
	NewCounts syncengine.RefreshCounts `json:"newCounts"`
}

// UpdateFundingTags handles PUT /api/settings/funding-tags. Saving the
// vocabulary immediately reclassifies the stored catalogue and returns
// the clinic's recomputed standing.
func (h *SettingsHandler) UpdateFundingTags(w http.ResponseWriter, r *http.Request) {
	userID, ok := tenancy.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req fundingTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wcTags := cleanTags(req.WCTags)
	epcTags := cleanTags(req.EPCTags)
	if len(wcTags) == 0 && len(epcTags) == 0 {
		respondError(w, http.StatusBadRequest, "at least one non-empty tag is required")
		return
	}

	current, err := h.settings.GetSettings(r.Context(), userID)
	if err != nil {
		h.logger.Error("settings load failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	next := store.Settings{
		WCTags:   wcTags,
		EPCTags:  epcTags,
		WCQuota:  current.WCQuota,
		EPCQuota: current.EPCQuota,
	}
	if req.WCQuota != nil && *req.WCQuota > 0 {
		next.WCQuota = *req.WCQuota
	}
	if req.EPCQuota != nil && *req.EPCQuota > 0 {
		next.EPCQuota = *req.EPCQuota
	}

	counts, err := h.reclassifier.Apply(r.Context(), userID, next)
	if err != nil {
		h.logger.Error("reclassification failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, fundingTagsResponse{
		WCTags:    next.WCTags,
		EPCTags:   next.EPCTags,
		NewCounts: counts,
	})
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	return out
}
