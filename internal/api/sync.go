package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fintshub/fints-sync/pkg/syncsession"
)

// SyncHandler drives the TAN-interrupted statement sync over HTTP. Every
// response is a syncsession.SyncResult; transport-level errors are reserved
// for malformed requests.
type SyncHandler struct {
	mgr *syncsession.Manager
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(mgr *syncsession.Manager) *SyncHandler {
	return &SyncHandler{mgr: mgr}
}

type startSyncRequest struct {
	PIN  string `json:"pin"`
	From string `json:"from"` // YYYY-MM-DD, optional
	To   string `json:"to"`   // YYYY-MM-DD, optional
}

type submitTanRequest struct {
	TAN string `json:"tan"`
}

func statusFor(res syncsession.SyncResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case syncsession.CodeConfig:
		return http.StatusBadRequest
	case syncsession.CodeSessionExpired:
		return http.StatusGone
	default:
		return http.StatusBadGateway
	}
}

// Start handles POST /api/v1/connections/{id}/sync.
func (h *SyncHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid connection ID")
		return
	}

	var req startSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}

	var from, to time.Time
	var err error
	if req.From != "" {
		if from, err = time.Parse("2006-01-02", req.From); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid from date")
			return
		}
	}
	if req.To != "" {
		if to, err = time.Parse("2006-01-02", req.To); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid to date")
			return
		}
	}

	res := h.mgr.StartSync(r.Context(), requestUser(r), id, req.PIN, from, to)
	writeJSON(w, statusFor(res), res)
}

// SubmitTan handles POST /api/v1/connections/{id}/sync/tan.
func (h *SyncHandler) SubmitTan(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid connection ID")
		return
	}

	var req submitTanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}

	res := h.mgr.SubmitTan(r.Context(), requestUser(r), id, req.TAN)
	writeJSON(w, statusFor(res), res)
}

// Poll handles POST /api/v1/connections/{id}/sync/poll. It blocks until the
// decoupled TAN is confirmed or the poll budget runs out.
func (h *SyncHandler) Poll(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid connection ID")
		return
	}
	res := h.mgr.PollDecoupled(r.Context(), requestUser(r), id)
	writeJSON(w, statusFor(res), res)
}

// Cancel handles POST /api/v1/connections/{id}/sync/cancel.
func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid connection ID")
		return
	}
	h.mgr.Cancel(r.Context(), requestUser(r), id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"cancelled": true})
}
