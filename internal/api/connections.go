package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fintshub/fints-sync/pkg/db"
	"github.com/fintshub/fints-sync/pkg/fints"
)

// ConnectionsHandler handles bank connection endpoints.
type ConnectionsHandler struct {
	conns    *db.Connections
	txns     *db.Transactions
	registry *fints.BankRegistry
}

// NewConnectionsHandler creates a new ConnectionsHandler.
func NewConnectionsHandler(conns *db.Connections, txns *db.Transactions, registry *fints.BankRegistry) *ConnectionsHandler {
	return &ConnectionsHandler{conns: conns, txns: txns, registry: registry}
}

// connectionJSON is the wire shape of a bank connection. The PIN is never
// part of it: it exists only inside an active sync session.
type connectionJSON struct {
	ID              int64  `json:"id"`
	LedgerAccountID int64  `json:"ledgerAccountId"`
	BankCode        string `json:"bankCode"`
	BankName        string `json:"bankName,omitempty"`
	URL             string `json:"url"`
	Username        string `json:"username"`
	CustomerID      string `json:"customerId,omitempty"`
	IBAN            string `json:"iban,omitempty"`
	BIC             string `json:"bic,omitempty"`
	AccountNumber   string `json:"accountNumber,omitempty"`
	LastSync        string `json:"lastSync,omitempty"`
	SyncFrom        string `json:"syncFrom,omitempty"`
	Active          bool   `json:"active"`
}

func (h *ConnectionsHandler) toJSON(bc *db.BankConnection) connectionJSON {
	out := connectionJSON{
		ID:              bc.ID,
		LedgerAccountID: bc.LedgerAccountID,
		BankCode:        bc.BankCode,
		URL:             bc.URL,
		Username:        bc.Username,
		CustomerID:      bc.CustomerID,
		IBAN:            bc.IBAN,
		BIC:             bc.BIC,
		AccountNumber:   bc.AccountNumber,
		Active:          bc.Active,
	}
	if bank, ok := h.registry.Lookup(bc.BankCode); ok {
		out.BankName = bank.Name
	}
	if bc.LastSync.Valid {
		out.LastSync = bc.LastSync.Time.UTC().Format("2006-01-02T15:04:05Z")
	}
	if bc.SyncFrom.Valid {
		out.SyncFrom = bc.SyncFrom.String
	}
	return out
}

type connectionRequest struct {
	LedgerAccountID int64  `json:"ledgerAccountId"`
	BankCode        string `json:"bankCode"`
	URL             string `json:"url"`
	Username        string `json:"username"`
	CustomerID      string `json:"customerId"`
	IBAN            string `json:"iban"`
	BIC             string `json:"bic"`
	AccountNumber   string `json:"accountNumber"`
	SyncFrom        string `json:"syncFrom"`
	Active          *bool  `json:"active"`
}

func (req *connectionRequest) apply(bc *db.BankConnection, registry *fints.BankRegistry) {
	bc.LedgerAccountID = req.LedgerAccountID
	bc.BankCode = req.BankCode
	bc.URL = req.URL
	bc.Username = req.Username
	bc.CustomerID = req.CustomerID
	bc.IBAN = req.IBAN
	bc.BIC = req.BIC
	bc.AccountNumber = req.AccountNumber
	if req.URL == "" {
		// A known bank code fills in the endpoint.
		if bank, ok := registry.Lookup(req.BankCode); ok {
			bc.URL = bank.URL
		}
	}
	if req.SyncFrom != "" {
		bc.SyncFrom = sql.NullString{String: req.SyncFrom, Valid: true}
	}
	if req.Active != nil {
		bc.Active = *req.Active
	}
}

// List handles GET /api/v1/connections.
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.conns.List()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to list connections")
		return
	}
	out := make([]connectionJSON, 0, len(conns))
	for i := range conns {
		out = append(out, h.toJSON(&conns[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": out})
}

// Get handles GET /api/v1/connections/{id}.
func (h *ConnectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid connection ID")
		return
	}
	bc, err := h.conns.Get(id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "Connection not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to get connection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connection": h.toJSON(bc)})
}

// Create handles POST /api/v1/connections.
func (h *ConnectionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}

	bc := &db.BankConnection{Active: true}
	req.apply(bc, h.registry)

	if err := h.conns.Create(bc); err != nil {
		var cfgErr *fints.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSONError(w, http.StatusBadRequest, "invalid_parameter", cfgErr.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to create connection")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"connection": h.toJSON(bc)})
}

// Update handles PUT /api/v1/connections/{id}.
func (h *ConnectionsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid connection ID")
		return
	}
	bc, err := h.conns.Get(id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "Connection not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to get connection")
		return
	}

	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}
	req.apply(bc, h.registry)

	if err := h.conns.Update(bc); err != nil {
		var cfgErr *fints.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSONError(w, http.StatusBadRequest, "invalid_parameter", cfgErr.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to update connection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connection": h.toJSON(bc)})
}

// Stats handles GET /api/v1/connections/{id}/stats.
func (h *ConnectionsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid connection ID")
		return
	}
	stats, err := h.txns.GetStats(id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to get stats")
		return
	}
	out := map[string]interface{}{
		"total":    stats.Total,
		"new":      stats.New,
		"matched":  stats.Matched,
		"imported": stats.Imported,
		"ignored":  stats.Ignored,
	}
	if stats.LastImport.Valid {
		out["lastImport"] = stats.LastImport.String
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": out})
}

// Banks handles GET /api/v1/banks: the known-bank registry for the
// connection form.
func (h *ConnectionsHandler) Banks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"banks": h.registry.All()})
}
