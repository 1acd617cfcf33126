package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/clinicsync/platform/internal/store"
	"github.com/clinicsync/platform/internal/tenancy"
	"github.com/clinicsync/platform/pkg/logging"
)

// SyncLogLister reads the audit trail. *store.Store satisfies it.
type SyncLogLister interface {
	ListSyncLogs(ctx context.Context, userID string, limit int) ([]store.SyncLog, error)
}

// SyncLogsHandler exposes the per-clinic sync audit trail.
type SyncLogsHandler struct {
	logs   SyncLogLister
	logger *logging.Logger
}

func NewSyncLogsHandler(logs SyncLogLister, logger *logging.Logger) *SyncLogsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SyncLogsHandler{logs: logs, logger: logger}
}

// List handles GET /api/sync/logs.
func (h *SyncLogsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := tenancy.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	logs, err := h.logs.ListSyncLogs(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("sync log list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if logs == nil {
		logs = []store.SyncLog{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
