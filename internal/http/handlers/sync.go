package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/clinicsync/platform/internal/pms"
	syncengine "github.com/clinicsync/platform/internal/sync"
	"github.com/clinicsync/platform/internal/tenancy"
	"github.com/clinicsync/platform/pkg/logging"
)

// SyncRunner is the engine surface the handler drives.
// *sync.Orchestrator satisfies it.
type SyncRunner interface {
	Run(ctx context.Context, userID string, req syncengine.Request) (syncengine.Result, error)
}

// SyncHandler exposes sync runs and connection tests over HTTP.
type SyncHandler struct {
	runner      SyncRunner
	factory     syncengine.AdapterFactory
	testTimeout time.Duration
	logger      *logging.Logger
}

func NewSyncHandler(runner SyncRunner, factory syncengine.AdapterFactory, testTimeout time.Duration, logger *logging.Logger) *SyncHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if testTimeout <= 0 {
		testTimeout = 10 * time.Second
	}
	return &SyncHandler{runner: runner, factory: factory, testTimeout: testTimeout, logger: logger}
}

type syncRequest struct {
	PMSType  string `json:"pmsType"`
	APIKey   string `json:"apiKey"`
	BaseURL  string `json:"baseUrl,omitempty"`
	ClinicID string `json:"clinicId,omitempty"`
}

func (req syncRequest) toEngine() (syncengine.Request, error) {
	pmsType := pms.Type(req.PMSType)
	if !pmsType.Valid() {
		return syncengine.Request{}, errors.New("pmsType must be one of cliniko, nookal, halaxy")
	}
	if req.APIKey == "" {
		return syncengine.Request{}, errors.New("apiKey is required")
	}
	return syncengine.Request{
		PMSType:  pmsType,
		APIKey:   req.APIKey,
		BaseURL:  req.BaseURL,
		ClinicID: req.ClinicID,
	}, nil
}

// Run handles POST /api/sync.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	userID, ok := tenancy.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	engineReq, err := req.toEngine()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.runner.Run(r.Context(), userID, engineReq)
	if err != nil {
		h.writeSyncError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// TestConnection handles POST /api/pms/test-connection. It validates
// credentials against the PMS without starting a sync or storing
// anything.
func (h *SyncHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	if _, ok := tenancy.UserIDFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	engineReq, err := req.toEngine()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	adapter, err := h.factory.New(engineReq.PMSType, pms.Credentials{
		APIKey:   engineReq.APIKey,
		BaseURL:  engineReq.BaseURL,
		ClinicID: engineReq.ClinicID,
	})
	if err != nil {
		h.writeSyncError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.testTimeout)
	defer cancel()
	if err := adapter.TestConnection(ctx); err != nil {
		h.writeSyncError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

func (h *SyncHandler) writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, syncengine.ErrSyncInProgress):
		respondError(w, http.StatusConflict, "a sync for this PMS is already running")
	case pms.IsCredentialFormat(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case pms.IsAuth(err):
		respondError(w, http.StatusUnauthorized, "the PMS rejected the credentials")
	default:
		var pmsErr *pms.Error
		if errors.As(err, &pmsErr) {
			respondError(w, http.StatusBadGateway, pmsErr.Error())
			return
		}
		h.logger.Error("sync request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
